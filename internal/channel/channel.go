package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/ratchet"
	"tether/internal/retry"
)

// Keys is the part of the key store the channel needs.
type Keys interface {
	domain.SessionStore
	Sign(msg []byte) ([]byte, error)
	MAC(transcript []byte) ([]byte, error)
	SealFrame(t frame.Type, plaintext []byte, p ratchet.Policy) ([]byte, error)
	OpenFrame(raw []byte) (frame.Header, []byte, error)
	Resync(counter uint64, epoch uint32) error
}

// Config tunes a Channel.
type Config struct {
	Rotation         ratchet.Policy
	Reconnect        retry.Policy
	HandshakeTimeout time.Duration
	// QueueSize bounds both the outbound and the inbound queue.
	QueueSize int
}

// DefaultConfig rotates every 1000 frames or hour and reconnects with
// retry.DefaultPolicy.
func DefaultConfig() Config {
	return Config{
		Rotation:         ratchet.Policy{MaxFrames: 1000, MaxAge: time.Hour},
		Reconnect:        retry.DefaultPolicy(),
		HandshakeTimeout: 10 * time.Second,
		QueueSize:        64,
	}
}

// State is the connection state reported by State.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateUnavailable
	StateUnlinked
	StateStopped
)

// String returns a lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateUnavailable:
		return "unavailable"
	case StateUnlinked:
		return "unlinked"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// request is one payload waiting for the writer.
type request struct {
	ctx     context.Context
	payload []byte
	done    chan error
}

func (r *request) finish(err error) { r.done <- err }

// Channel is the device side of the secure channel.
type Channel struct {
	keys   Keys
	dialer domain.Dialer
	cfg    Config
	log    zerolog.Logger
	wait   func(ctx context.Context, d time.Duration) error

	out chan *request
	in  chan []byte

	mu       sync.Mutex
	state    State
	running  bool
	unlinked bool
	cancel   context.CancelFunc
	down     chan struct{}
	downErr  error
}

// New returns a Channel that is idle until Run is called.
func New(keys Keys, dialer domain.Dialer, cfg Config, logger zerolog.Logger) *Channel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	return &Channel{
		keys:   keys,
		dialer: dialer,
		cfg:    cfg,
		log:    logger.With().Str("component", "channel").Logger(),
		wait:   retry.Sleep,
		out:    make(chan *request, cfg.QueueSize),
		in:     make(chan []byte, cfg.QueueSize),
		down:   make(chan struct{}),
	}
}

// Inbound returns decrypted payloads in arrival order. It is closed when
// Run returns.
func (c *Channel) Inbound() <-chan []byte { return c.in }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state != s {
		c.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("channel state")
	}
	c.state = s
	c.mu.Unlock()
}

// Send queues payload for the writer and waits until it is on the wire.
// It fails with ErrNotLinked when no session exists and with the channel's
// terminal error once Run has given up.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	if _, ok, err := c.keys.CurrentSession(); err != nil {
		return err
	} else if !ok {
		return domain.ErrNotLinked
	}
	req := &request{ctx: ctx, payload: payload, done: make(chan error, 1)}
	select {
	case c.out <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.down:
		return c.terminal()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.down:
		return c.terminal()
	}
}

func (c *Channel) terminal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downErr
}

// Unlink stops the channel and invalidates the session. Pending and later
// sends fail with ErrNotLinked.
func (c *Channel) Unlink() error {
	c.mu.Lock()
	c.unlinked = true
	cancel := c.cancel
	running := c.running
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := c.keys.InvalidateSession()
	if !running {
		c.shutdown(domain.ErrNotLinked, StateUnlinked)
	}
	return err
}

// shutdown records the terminal error once and releases waiters.
func (c *Channel) shutdown(err error, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downErr != nil {
		return
	}
	c.downErr = err
	c.state = s
	close(c.down)
}

// Run keeps the channel connected until ctx is done, the session is
// unlinked or revoked, or reconnect attempts are exhausted. Run may be
// called once.
func (c *Channel) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.running || c.downErr != nil {
		c.mu.Unlock()
		return errors.New("channel: Run called twice")
	}
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.in)
	defer func() {
		switch {
		case errors.Is(err, domain.ErrNotLinked), errors.Is(err, domain.ErrSessionRevoked),
			errors.Is(err, domain.ErrHandshakeFailed):
			c.shutdown(err, StateUnlinked)
		case errors.Is(err, domain.ErrChannelUnavailable):
			c.shutdown(err, StateUnavailable)
		default:
			c.shutdown(fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err), StateStopped)
		}
	}()

	b := c.cfg.Reconnect.Backoff()
	failures := 0
	for {
		err := c.connect(ctx, func() {
			b.Reset()
			failures = 0
		})
		if c.isUnlinked() {
			return domain.ErrNotLinked
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, domain.ErrNotLinked):
			return err
		case errors.Is(err, domain.ErrSessionRevoked), errors.Is(err, domain.ErrHandshakeFailed):
			c.log.Error().Err(err).Msg("session no longer usable, invalidating")
			if ierr := c.keys.InvalidateSession(); ierr != nil {
				c.log.Error().Err(ierr).Msg("invalidate session")
			}
			return err
		}

		failures++
		if failures >= c.cfg.Reconnect.Attempts() {
			c.log.Error().Err(err).Int("attempts", failures).Msg("giving up on relay")
			return fmt.Errorf("%w: %d consecutive failures: %v", domain.ErrChannelUnavailable, failures, err)
		}
		d := b.Duration()
		c.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", d).Msg("relay connection lost")
		c.setState(StateBackoff)
		if werr := c.wait(ctx, d); werr != nil {
			if c.isUnlinked() {
				return domain.ErrNotLinked
			}
			return werr
		}
	}
}

func (c *Channel) isUnlinked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlinked
}
