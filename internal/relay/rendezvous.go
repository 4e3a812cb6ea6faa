package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tether/internal/domain"
	"tether/internal/protocol/frame"
)

// ErrUnknownRef is returned when a confirmation names no open rendezvous.
var ErrUnknownRef = errors.New("relay: unknown rendezvous ref")

// Memory is an in-process Rendezvous. The primary side calls Deliver.
type Memory struct {
	mu      sync.Mutex
	waiters map[string]chan []byte
}

// NewMemory returns an empty in-process rendezvous.
func NewMemory() *Memory {
	return &Memory{waiters: make(map[string]chan []byte)}
}

// Open registers ref.
func (m *Memory) Open(ctx context.Context, ref string) (domain.RendezvousWaiter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.waiters[ref]; ok {
		return nil, fmt.Errorf("relay: rendezvous %q already open", ref)
	}
	ch := make(chan []byte, 1)
	m.waiters[ref] = ch
	return &memoryWaiter{m: m, ref: ref, ch: ch}, nil
}

// Deliver hands a confirmation to the waiter of ref. Only the first
// delivery per ref is kept.
func (m *Memory) Deliver(ref string, confirmation []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.waiters[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	select {
	case ch <- append([]byte(nil), confirmation...):
	default:
	}
	return nil
}

type memoryWaiter struct {
	m   *Memory
	ref string
	ch  chan []byte
}

func (w *memoryWaiter) Wait(ctx context.Context) ([]byte, error) {
	select {
	case b := <-w.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *memoryWaiter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.waiters[w.ref] == w.ch {
		delete(w.m.waiters, w.ref)
	}
	return nil
}

// StreamRendezvous waits for a confirmation over a dedicated relay
// connection: it announces the ref in a Rendezvous frame and reads until a
// Confirm frame arrives.
type StreamRendezvous struct {
	Dialer domain.Dialer
}

// Open dials the relay and announces ref.
func (r *StreamRendezvous) Open(ctx context.Context, ref string) (domain.RendezvousWaiter, error) {
	conn, err := r.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(ctx, frame.Plain(frame.TypeRendezvous, []byte(ref))); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &streamWaiter{conn: conn}, nil
}

type streamWaiter struct {
	conn domain.Conn
}

func (w *streamWaiter) Wait(ctx context.Context) ([]byte, error) {
	for {
		raw, err := w.conn.ReadFrame(ctx)
		if err != nil {
			return nil, err
		}
		h, body, err := frame.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
		}
		if h.Type == frame.TypeConfirm {
			return body, nil
		}
	}
}

func (w *streamWaiter) Close() error { return w.conn.Close() }

var (
	_ domain.Rendezvous = (*Memory)(nil)
	_ domain.Rendezvous = (*StreamRendezvous)(nil)
)
