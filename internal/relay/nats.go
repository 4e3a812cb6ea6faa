package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"tether/internal/domain"
)

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL             string `yaml:"url" toml:"url"`
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	// Prefix roots every subject, e.g. "tether".
	Prefix  string        `yaml:"prefix" toml:"prefix"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// QueueSize bounds frames buffered between the NATS callback and
	// ReadFrame. Frames arriving at a full queue are dropped.
	QueueSize int `yaml:"queue_size" toml:"queue_size"`
}

// Subjects returns the device->relay and relay->device subjects of a
// session.
func (c NATSConfig) Subjects(sessionID string) (up, down string) {
	base := c.Prefix + ".session." + sessionID
	return base + ".up", base + ".down"
}

// PairSubject returns the subject a confirmation for ref is published on.
func (c NATSConfig) PairSubject(ref string) string {
	return c.Prefix + ".pair." + ref
}

func (c NATSConfig) connect(name string, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		// The secure channel owns reconnect policy.
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Debug().Msg("NATS connection closed")
		}),
	}
	if c.Timeout > 0 {
		opts = append(opts, nats.Timeout(c.Timeout))
	}
	if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(c.CredentialsFile))
		}
	}
	conn, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSDialer opens session connections over NATS.
type NATSDialer struct {
	cfg      NATSConfig
	sessions domain.SessionStore
	log      zerolog.Logger
}

// NewNATSDialer returns a dialer for the session currently held by sessions.
func NewNATSDialer(cfg NATSConfig, sessions domain.SessionStore, log zerolog.Logger) *NATSDialer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &NATSDialer{
		cfg:      cfg,
		sessions: sessions,
		log:      log.With().Str("component", "relay-nats").Logger(),
	}
}

// Dial connects and subscribes to the session's downlink subject.
func (d *NATSDialer) Dial(ctx context.Context) (domain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, ok, err := d.sessions.CurrentSession()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotLinked
	}
	nc, err := d.cfg.connect("tether-"+string(info.DeviceID), d.log)
	if err != nil {
		return nil, err
	}
	up, down := d.cfg.Subjects(info.SessionID)
	c := &natsConn{
		nc:     nc,
		up:     up,
		frames: make(chan []byte, d.cfg.QueueSize),
		closed: make(chan struct{}),
	}
	c.sub, err = nc.Subscribe(down, func(msg *nats.Msg) {
		select {
		case c.frames <- msg.Data:
		default:
			d.log.Warn().Str("subject", msg.Subject).Msg("frame queue full, dropping frame")
		}
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	// Make sure the subscription is registered before the Hello goes out.
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	d.log.Debug().Str("subject", down).Msg("subscribed to NATS")
	return c, nil
}

type natsConn struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	up     string
	frames chan []byte

	once   sync.Once
	closed chan struct{}
}

// errConnClosed is returned by reads on a closed NATS connection.
var errConnClosed = errors.New("relay: connection closed")

func (c *natsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.frames:
		return raw, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *natsConn) WriteFrame(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.nc.IsClosed() {
		return errConnClosed
	}
	return c.nc.Publish(c.up, raw)
}

func (c *natsConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		_ = c.sub.Unsubscribe()
		c.nc.Close()
	})
	return nil
}

// NATSRendezvous waits for pairing confirmations on NATS.
type NATSRendezvous struct {
	cfg NATSConfig
	log zerolog.Logger
}

// NewNATSRendezvous returns a Rendezvous over NATS.
func NewNATSRendezvous(cfg NATSConfig, log zerolog.Logger) *NATSRendezvous {
	return &NATSRendezvous{cfg: cfg, log: log.With().Str("component", "relay-nats").Logger()}
}

// Open subscribes to the confirmation subject of ref.
func (r *NATSRendezvous) Open(ctx context.Context, ref string) (domain.RendezvousWaiter, error) {
	nc, err := r.cfg.connect("tether-pairing", r.log)
	if err != nil {
		return nil, err
	}
	sub, err := nc.SubscribeSync(r.cfg.PairSubject(ref))
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return &natsWaiter{nc: nc, sub: sub}, nil
}

type natsWaiter struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

func (w *natsWaiter) Wait(ctx context.Context) ([]byte, error) {
	msg, err := w.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return msg.Data, nil
}

func (w *natsWaiter) Close() error {
	_ = w.sub.Unsubscribe()
	w.nc.Close()
	return nil
}

var (
	_ domain.Dialer     = (*NATSDialer)(nil)
	_ domain.Rendezvous = (*NATSRendezvous)(nil)
)
