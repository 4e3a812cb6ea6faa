package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"tether/internal/domain"
	"tether/internal/protocol/frame"
)

// StreamConn carries length-prefixed frames over a net.Conn.
type StreamConn struct {
	conn   net.Conn
	limits frame.Limits

	wmu sync.Mutex
}

// NewStreamConn wraps c.
func NewStreamConn(c net.Conn, limits frame.Limits) *StreamConn {
	return &StreamConn{conn: c, limits: limits}
}

// ReadFrame blocks until a frame arrives, ctx is done or the connection
// closes.
func (c *StreamConn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := c.bind(ctx, c.conn.SetReadDeadline)
	defer stop()
	raw, err := frame.Read(c.conn, c.limits)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	return raw, nil
}

// WriteFrame writes one frame. Concurrent writers are serialised.
func (c *StreamConn) WriteFrame(ctx context.Context, raw []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	stop := c.bind(ctx, c.conn.SetWriteDeadline)
	defer stop()
	if err := frame.Write(c.conn, raw, c.limits); err != nil {
		return contextError(ctx, err)
	}
	return nil
}

// contextError prefers the context's error when ctx caused err, including
// a deadline that fired on the socket before the context timer.
func contextError(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return err
}

// bind makes ctx cancellation interrupt the blocking call guarded by set.
func (c *StreamConn) bind(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	} else {
		_ = set(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = set(time.Now()) })
	return func() { stop() }
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error { return c.conn.Close() }

// StreamDialer dials a TCP relay.
type StreamDialer struct {
	Addr   string
	Limits frame.Limits
	Dialer net.Dialer
}

// Dial connects to the relay.
func (d *StreamDialer) Dial(ctx context.Context) (domain.Conn, error) {
	c, err := d.Dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, err
	}
	return NewStreamConn(c, d.limits()), nil
}

func (d *StreamDialer) limits() frame.Limits {
	if d.Limits.MaxFrameBytes == 0 {
		return frame.DefaultLimits()
	}
	return d.Limits
}

// ErrRefused is returned by a Pipe whose accept callback is unset.
var ErrRefused = errors.New("relay: connection refused")

// Pipe is an in-process Dialer. Every Dial creates a net.Pipe and hands
// the relay end to Accept on its own goroutine.
type Pipe struct {
	mu     sync.Mutex
	accept func(domain.Conn)
}

// NewPipe returns a Pipe that serves connections with accept.
func NewPipe(accept func(domain.Conn)) *Pipe {
	return &Pipe{accept: accept}
}

// SetAccept replaces the accept callback; nil refuses connections.
func (p *Pipe) SetAccept(accept func(domain.Conn)) {
	p.mu.Lock()
	p.accept = accept
	p.mu.Unlock()
}

// Dial connects to the in-process relay.
func (p *Pipe) Dial(ctx context.Context) (domain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	accept := p.accept
	p.mu.Unlock()
	if accept == nil {
		return nil, ErrRefused
	}
	device, relay := net.Pipe()
	go accept(NewStreamConn(relay, frame.DefaultLimits()))
	return NewStreamConn(device, frame.DefaultLimits()), nil
}

// DialerFunc adapts a function to domain.Dialer.
type DialerFunc func(ctx context.Context) (domain.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (domain.Conn, error) { return f(ctx) }

var (
	_ domain.Conn   = (*StreamConn)(nil)
	_ domain.Dialer = (*StreamDialer)(nil)
	_ domain.Dialer = (*Pipe)(nil)
	_ domain.Dialer = DialerFunc(nil)
)
