package channel

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tether/internal/codec"
	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/handshake"
)

// connect runs one connection: dial, handshake, then serve until the
// connection fails. onUp is called once the handshake succeeds.
func (c *Channel) connect(ctx context.Context, onUp func()) error {
	c.setState(StateConnecting)
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(hctx)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	if err := c.handshake(hctx, conn); err != nil {
		return err
	}
	onUp()
	c.setState(StateConnected)
	c.log.Info().Msg("secure channel connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.reader(gctx, conn) })
	g.Go(func() error { return c.writer(gctx, conn) })
	// Close promptly so a blocked transport call returns.
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()
	return g.Wait()
}

// handshake sends Hello and validates the Welcome. The receive chain is
// moved forward to the relay's announced send position.
func (c *Channel) handshake(ctx context.Context, conn domain.Conn) error {
	info, ok, err := c.keys.CurrentSession()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotLinked
	}
	hello := handshake.Hello{
		SessionID:   info.SessionID,
		DeviceID:    string(info.DeviceID),
		Nonce:       make([]byte, handshake.NonceSize),
		SendCounter: info.Send.Counter,
		SendEpoch:   info.Send.Epoch,
		RecvCounter: info.Recv.Counter,
		RecvEpoch:   info.Recv.Epoch,
	}
	if _, err := rand.Read(hello.Nonce); err != nil {
		return err
	}
	transcript := handshake.HelloTranscript(hello)
	if hello.Proof, err = c.keys.MAC(transcript); err != nil {
		return err
	}
	if hello.Signature, err = c.keys.Sign(transcript); err != nil {
		return err
	}
	body, err := codec.Marshal(hello)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, frame.Plain(frame.TypeHello, body)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	raw, err := conn.ReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	h, body, err := frame.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: welcome: %v", domain.ErrMalformed, err)
	}
	if h.Type != frame.TypeWelcome {
		return fmt.Errorf("%w: expected welcome, got %s", domain.ErrMalformed, h.Type)
	}
	var w handshake.Welcome
	if err := codec.Unmarshal(body, &w); err != nil {
		return fmt.Errorf("%w: welcome: %v", domain.ErrMalformed, err)
	}
	switch w.Status {
	case handshake.StatusOK:
	case handshake.StatusUnknownSession:
		return domain.ErrSessionRevoked
	case handshake.StatusBadProof:
		return fmt.Errorf("%w: relay rejected hello proof", domain.ErrHandshakeFailed)
	default:
		return fmt.Errorf("%w: welcome status %d", domain.ErrMalformed, w.Status)
	}
	want, err := c.keys.MAC(handshake.WelcomeTranscript(hello, w))
	if err != nil {
		return err
	}
	if !hmac.Equal(want, w.Proof) {
		return fmt.Errorf("%w: bad welcome proof", domain.ErrHandshakeFailed)
	}
	return c.keys.Resync(w.SendCounter, w.SendEpoch)
}

// reader is the only caller of OpenFrame while a connection is up. c.in is
// closed only after the reader has returned.
func (c *Channel) reader(ctx context.Context, conn domain.Conn) error {
	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		h, pt, err := c.keys.OpenFrame(raw)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrReplayOrOutOfOrder),
			errors.Is(err, domain.ErrFrameAuth),
			errors.Is(err, domain.ErrMalformed):
			c.log.Warn().Err(err).
				Uint32("epoch", h.Epoch).
				Uint64("counter", h.Counter).
				Msg("dropping inbound frame")
			continue
		default:
			return err
		}
		select {
		case c.in <- pt:
		case <-ctx.Done():
			// The counter is already committed; keep the payload if the
			// queue has room.
			select {
			case c.in <- pt:
			default:
				c.log.Warn().Uint64("counter", h.Counter).Msg("inbound queue full while stopping, payload dropped")
			}
			return ctx.Err()
		}
	}
}

// writer is the only caller of SealFrame while a connection is up.
func (c *Channel) writer(ctx context.Context, conn domain.Conn) error {
	for {
		var req *request
		select {
		case req = <-c.out:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := req.ctx.Err(); err != nil {
			req.finish(err)
			continue
		}
		raw, err := c.keys.SealFrame(frame.TypeData, req.payload, c.cfg.Rotation)
		if err != nil {
			req.finish(err)
			if errors.Is(err, domain.ErrCounterExhausted) {
				return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
			}
			continue
		}
		if err := conn.WriteFrame(ctx, raw); err != nil {
			req.finish(err)
			return fmt.Errorf("write frame: %w", err)
		}
		req.finish(nil)
	}
}
