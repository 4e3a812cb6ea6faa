package secret

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a closed buffer is read.
var ErrClosed = errors.New("secret: buffer closed")

// Buffer is a fixed-size region of sensitive bytes. It must not be copied.
type Buffer struct {
	mu     sync.Mutex
	region region
	closed bool
}

// region is the platform allocation behind a Buffer.
type region struct {
	data   []byte
	locked bool
	free   func([]byte) error
}

// New allocates a zeroed buffer of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	r, err := allocate(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: r}, nil
}

// NewFromBytes moves source into a new buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.region.data, source)
	zero(source)
	return b, nil
}

// View calls fn with the secret bytes. fn must not retain the slice.
func (b *Buffer) View(fn func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return fn(b.region.data)
}

// Clone returns an independent buffer holding the same bytes.
func (b *Buffer) Clone() (*Buffer, error) {
	var out *Buffer
	err := b.View(func(p []byte) error {
		c, err := New(len(p))
		if err != nil {
			return err
		}
		copy(c.region.data, p)
		out = c
		return nil
	})
	return out, err
}

// Len returns the size of the secret.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region.data)
}

// Locked reports whether the region is pinned in RAM.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.region.locked
}

// Close zeroes and releases the region. It is idempotent; a nil buffer is
// a no-op so that callers can close optional handles unconditionally.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	zero(b.region.data)
	var err error
	if b.region.free != nil {
		err = b.region.free(b.region.data)
	}
	b.region.data = nil
	return err
}

//go:noinline
func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
