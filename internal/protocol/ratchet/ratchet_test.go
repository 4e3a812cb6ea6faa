package ratchet_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/ratchet"
)

// newPair returns a sending and receiving chain that share a key.
func newPair(t *testing.T, now time.Time) (ratchet.Chain, ratchet.Chain) {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, frame.KeySize)
	st := domain.ChainState{RotatedAt: now}
	return ratchet.Chain{Key: key, State: st},
		ratchet.Chain{Key: append([]byte(nil), key...), State: st}
}

func TestStep_OneWayAndDeterministic(t *testing.T) {
	k := bytes.Repeat([]byte{1}, 32)
	a, b := ratchet.Step(k), ratchet.Step(k)
	if !bytes.Equal(a, b) {
		t.Fatal("Step not deterministic")
	}
	if bytes.Equal(a, k) {
		t.Fatal("Step returned its input")
	}
	two, err := ratchet.Advance(k, 2)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !bytes.Equal(two, ratchet.Step(a)) {
		t.Fatal("Advance(2) != Step(Step(k))")
	}
	if _, err := ratchet.Advance(k, ratchet.MaxEpochSkip+1); !errors.Is(err, ratchet.ErrEpochSkip) {
		t.Fatalf("expected ErrEpochSkip, got %v", err)
	}
}

func TestSealOpen_InOrder(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	for i := 0; i < 3; i++ {
		raw, next, err := ratchet.Seal(send, frame.TypeData, []byte{byte(i)}, ratchet.Policy{}, now)
		if err != nil {
			t.Fatalf("Seal %d: %v", i, err)
		}
		send = next
		h, pt, nr, err := ratchet.Open(recv, raw, now)
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		recv = nr
		if h.Counter != uint64(i) || pt[0] != byte(i) {
			t.Fatalf("frame %d: counter %d payload %v", i, h.Counter, pt)
		}
	}
	if send.State.Counter != 3 || recv.State.Counter != 3 {
		t.Fatalf("counters %d/%d, want 3/3", send.State.Counter, recv.State.Counter)
	}
}

func TestOpen_RejectsReplay(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	raw, _, err := ratchet.Seal(send, frame.TypeData, []byte("x"), ratchet.Policy{}, now)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	_, _, recv, err = ratchet.Open(recv, raw, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _, after, err := ratchet.Open(recv, raw, now)
	if !errors.Is(err, domain.ErrReplayOrOutOfOrder) {
		t.Fatalf("replay: got %v", err)
	}
	if after.State != recv.State {
		t.Fatal("rejected frame changed chain state")
	}
}

func TestOpen_RejectsSkippedCounter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	_, send, _ = ratchet.Seal(send, frame.TypeData, []byte("lost"), ratchet.Policy{}, now)
	raw, _, _ := ratchet.Seal(send, frame.TypeData, []byte("second"), ratchet.Policy{}, now)
	if _, _, _, err := ratchet.Open(recv, raw, now); !errors.Is(err, domain.ErrReplayOrOutOfOrder) {
		t.Fatalf("gap: got %v", err)
	}
}

func TestOpen_RejectsTampering(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	raw, _, _ := ratchet.Seal(send, frame.TypeData, []byte("x"), ratchet.Policy{}, now)
	raw[len(raw)-1] ^= 0xFF
	if _, _, _, err := ratchet.Open(recv, raw, now); !errors.Is(err, domain.ErrFrameAuth) {
		t.Fatalf("tampered: got %v", err)
	}
	if _, _, _, err := ratchet.Open(recv, raw[:4], now); !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("short: got %v", err)
	}
}

func TestRotation_ByFrameCount(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	policy := ratchet.Policy{MaxFrames: 2}
	for i := 0; i < 5; i++ {
		raw, next, err := ratchet.Seal(send, frame.TypeData, []byte("m"), policy, now)
		if err != nil {
			t.Fatalf("Seal %d: %v", i, err)
		}
		send = next
		_, _, nr, err := ratchet.Open(recv, raw, now)
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		recv = nr
	}
	if send.State.Epoch != 2 || recv.State.Epoch != 2 {
		t.Fatalf("epochs %d/%d, want 2/2", send.State.Epoch, recv.State.Epoch)
	}
	if !bytes.Equal(send.Key, recv.Key) {
		t.Fatal("chains diverged")
	}
}

func TestRotation_ByAge(t *testing.T) {
	start := time.Unix(1700000000, 0)
	send, _ := newPair(t, start)
	policy := ratchet.Policy{MaxAge: time.Hour}
	_, next, err := ratchet.Seal(send, frame.TypeData, nil, policy, start.Add(30*time.Minute))
	if err != nil || ratchet.Rotated(send, next) {
		t.Fatalf("rotated too early (err=%v)", err)
	}
	_, later, err := ratchet.Seal(next, frame.TypeData, nil, policy, start.Add(2*time.Hour))
	if err != nil || !ratchet.Rotated(next, later) {
		t.Fatalf("did not rotate after MaxAge (err=%v)", err)
	}
}

func TestOpen_OldEpochRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	send, recv := newPair(t, now)
	old, send, _ := ratchet.Seal(send, frame.TypeData, []byte("old"), ratchet.Policy{}, now)
	raw, _, _ := ratchet.Seal(send, frame.TypeData, []byte("new"), ratchet.Policy{MaxFrames: 1}, now)

	var err error
	recv, err = ratchet.Resync(recv, 1, 0, now)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if _, _, recv, err = ratchet.Open(recv, raw, now); err != nil {
		t.Fatalf("Open rotated frame: %v", err)
	}
	if _, _, _, err := ratchet.Open(recv, old, now); !errors.Is(err, domain.ErrReplayOrOutOfOrder) {
		t.Fatalf("old epoch: got %v", err)
	}
}

func TestResync_NeverMovesBackwards(t *testing.T) {
	now := time.Unix(1700000000, 0)
	_, recv := newPair(t, now)
	recv.State.Counter = 10
	next, err := ratchet.Resync(recv, 4, 0, now)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if next.State.Counter != 10 {
		t.Fatalf("counter moved backwards to %d", next.State.Counter)
	}
	next, err = ratchet.Resync(recv, 12, 1, now)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if next.State.Counter != 12 || next.State.Epoch != 1 || !ratchet.Rotated(recv, next) {
		t.Fatalf("unexpected state %+v", next.State)
	}
}
