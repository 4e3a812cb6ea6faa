package ratchet

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeebo/blake3"

	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/protocol/frame"
)

const (
	// MaxEpochSkip bounds how many rotations a receiver derives in one go.
	MaxEpochSkip = 64

	kdfContext = "tether 2026-01-01 secure channel chain ratchet v1"
)

// ErrEpochSkip is returned when a frame claims an epoch too far ahead.
var ErrEpochSkip = errors.New("ratchet: epoch too far ahead")

// Policy decides when a sender rotates its chain key.
type Policy struct {
	MaxFrames uint64
	MaxAge    time.Duration
}

// Due reports whether the chain should rotate before the next frame.
func (p Policy) Due(st domain.ChainState, now time.Time) bool {
	if p.MaxFrames > 0 && st.Frames >= p.MaxFrames {
		return true
	}
	if p.MaxAge > 0 && !st.RotatedAt.IsZero() && now.Sub(st.RotatedAt) >= p.MaxAge {
		return true
	}
	return false
}

// Chain is one direction's key and position.
type Chain struct {
	Key   []byte
	State domain.ChainState
}

// Step derives the next chain key. It is one-way.
func Step(key []byte) []byte {
	out := make([]byte, frame.KeySize)
	blake3.DeriveKey(kdfContext, key, out)
	return out
}

// Advance applies Step n times, wiping intermediate keys. Advance(k, 0)
// returns a copy of k.
func Advance(key []byte, n uint32) ([]byte, error) {
	if n > MaxEpochSkip {
		return nil, ErrEpochSkip
	}
	cur := append([]byte(nil), key...)
	for i := uint32(0); i < n; i++ {
		next := Step(cur)
		crypto.Wipe(cur)
		cur = next
	}
	return cur, nil
}

// Seal encrypts plaintext as the chain's next frame, rotating first when
// the policy says so.
//
// Seal, Open and Resync share one convention: the successor chain holds a
// fresh key slice exactly when Rotated(prev, next) is true, and the caller
// then owns both keys and wipes the one it drops.
func Seal(c Chain, t frame.Type, plaintext []byte, p Policy, now time.Time) ([]byte, Chain, error) {
	next := c
	if p.Due(c.State, now) {
		if next.State.Epoch == math.MaxUint32 {
			return nil, c, domain.ErrCounterExhausted
		}
		next.Key = Step(c.Key)
		next.State.Epoch++
		next.State.Frames = 0
		next.State.RotatedAt = now
	}
	if next.State.Counter == math.MaxUint64 {
		return nil, c, domain.ErrCounterExhausted
	}
	h := frame.Header{Type: t, Epoch: next.State.Epoch, Counter: next.State.Counter}
	raw, err := frame.Seal(next.Key, h, plaintext)
	if err != nil {
		return nil, c, err
	}
	next.State.Counter++
	next.State.Frames++
	return raw, next, nil
}

// Open authenticates raw against the chain, then checks that its counter is
// the next expected one.
func Open(c Chain, raw []byte, now time.Time) (frame.Header, []byte, Chain, error) {
	h, _, err := frame.Parse(raw)
	if err != nil {
		return frame.Header{}, nil, c, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if h.Type != frame.TypeData {
		return h, nil, c, fmt.Errorf("%w: unexpected %s frame", domain.ErrMalformed, h.Type)
	}
	if h.Epoch < c.State.Epoch {
		return h, nil, c, domain.ErrReplayOrOutOfOrder
	}
	key := c.Key
	if h.Epoch > c.State.Epoch {
		if key, err = Advance(c.Key, h.Epoch-c.State.Epoch); err != nil {
			return h, nil, c, fmt.Errorf("%w: %v", domain.ErrFrameAuth, err)
		}
	}
	discard := func() {
		if h.Epoch != c.State.Epoch {
			crypto.Wipe(key)
		}
	}
	_, pt, err := frame.Open(key, raw)
	if err != nil {
		discard()
		return h, nil, c, domain.ErrFrameAuth
	}
	if h.Counter != c.State.Counter {
		discard()
		return h, nil, c, domain.ErrReplayOrOutOfOrder
	}
	next := c
	if h.Epoch != c.State.Epoch {
		next.Key = key
		next.State.Epoch = h.Epoch
		next.State.Frames = 0
		next.State.RotatedAt = now
	}
	next.State.Counter++
	next.State.Frames++
	return h, pt, next, nil
}

// Resync moves a receiving chain forward to a position announced by the
// peer during the handshake. It never moves backwards.
func Resync(c Chain, counter uint64, epoch uint32, now time.Time) (Chain, error) {
	next := c
	if epoch > c.State.Epoch {
		key, err := Advance(c.Key, epoch-c.State.Epoch)
		if err != nil {
			return c, err
		}
		next.Key = key
		next.State.Epoch = epoch
		next.State.Frames = 0
		next.State.RotatedAt = now
	}
	if counter > c.State.Counter {
		next.State.Counter = counter
	}
	return next, nil
}

// Rotated reports whether next uses a different key than prev.
func Rotated(prev, next Chain) bool {
	return prev.State.Epoch != next.State.Epoch
}
