package frame_test

import (
	"bytes"
	"errors"
	"testing"

	"tether/internal/protocol/frame"
)

func key(b byte) []byte { return bytes.Repeat([]byte{b}, frame.KeySize) }

func TestHeader_EncodeParse(t *testing.T) {
	h := frame.Header{Version: frame.Version, Type: frame.TypeData, Epoch: 7, Counter: 1 << 40}
	raw := append(h.Encode(), 0xAA)
	got, body, err := frame.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != h {
		t.Fatalf("header: got %+v, want %+v", got, h)
	}
	if !bytes.Equal(body, []byte{0xAA}) {
		t.Fatalf("body: %x", body)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, _, err := frame.Parse([]byte{'T', 'L', 1}); !errors.Is(err, frame.ErrShortFrame) {
		t.Fatalf("short: %v", err)
	}
	raw := frame.Plain(frame.TypeHello, nil)
	raw[0] = 'X'
	if _, _, err := frame.Parse(raw); !errors.Is(err, frame.ErrBadMagic) {
		t.Fatalf("magic: %v", err)
	}
	raw = frame.Plain(frame.TypeHello, nil)
	raw[2] = 9
	if _, _, err := frame.Parse(raw); !errors.Is(err, frame.ErrVersion) {
		t.Fatalf("version: %v", err)
	}
}

func TestSealOpen(t *testing.T) {
	h := frame.Header{Type: frame.TypeData, Epoch: 1, Counter: 3}
	raw, err := frame.Seal(key(1), h, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, pt, err := frame.Open(key(1), raw)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != "payload" || got.Counter != 3 || got.Epoch != 1 {
		t.Fatalf("unexpected open result %+v %q", got, pt)
	}

	if _, _, err := frame.Open(key(2), raw); !errors.Is(err, frame.ErrOpen) {
		t.Fatalf("wrong key: %v", err)
	}

	// The header is additional data: changing the counter must fail.
	tampered := append([]byte(nil), raw...)
	tampered[15] ^= 1
	if _, _, err := frame.Open(key(1), tampered); !errors.Is(err, frame.ErrOpen) {
		t.Fatalf("tampered header: %v", err)
	}
}

func TestStream_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	limits := frame.DefaultLimits()
	a := frame.Plain(frame.TypeHello, []byte("one"))
	b := frame.Plain(frame.TypeWelcome, []byte("two"))
	if err := frame.Write(&buf, a, limits); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := frame.Write(&buf, b, limits); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, want := range [][]byte{a, b} {
		got, err := frame.Read(&buf, limits)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %x, want %x", got, want)
		}
	}
}

func TestStream_Limits(t *testing.T) {
	limits := frame.Limits{MaxFrameBytes: 20}
	big := frame.Plain(frame.TypeData, make([]byte, 10))
	if err := frame.Write(&bytes.Buffer{}, big, limits); !errors.Is(err, frame.ErrFrameTooLarge) {
		t.Fatalf("write limit: %v", err)
	}
	var buf bytes.Buffer
	_ = frame.Write(&buf, big, frame.DefaultLimits())
	if _, err := frame.Read(&buf, limits); !errors.Is(err, frame.ErrFrameTooLarge) {
		t.Fatalf("read limit: %v", err)
	}
}
