package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// HeaderLen is the size of the fixed frame header.
	HeaderLen = 16
	// Version is the only frame version this package emits.
	Version uint8 = 1
	// KeySize is the chain key size for data frames.
	KeySize = chacha20poly1305.KeySize
)

var magic = [2]byte{'T', 'L'}

var (
	ErrShortFrame    = errors.New("frame: shorter than header")
	ErrBadMagic      = errors.New("frame: bad magic")
	ErrVersion       = errors.New("frame: unsupported version")
	ErrFrameTooLarge = errors.New("frame: too large")
	ErrOpen          = errors.New("frame: authentication failed")
)

// Type identifies the frame body.
type Type uint8

const (
	TypeHello Type = iota + 1
	TypeWelcome
	TypeData
	TypeRendezvous
	TypeConfirm
)

// String returns a short name for logs.
func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeWelcome:
		return "welcome"
	case TypeData:
		return "data"
	case TypeRendezvous:
		return "rendezvous"
	case TypeConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Header is the fixed frame header.
type Header struct {
	Version uint8
	Type    Type
	Epoch   uint32
	Counter uint64
}

// Encode returns the 16-byte wire form of h.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderLen)
	b[0], b[1] = magic[0], magic[1]
	b[2] = h.Version
	b[3] = byte(h.Type)
	binary.BigEndian.PutUint32(b[4:8], h.Epoch)
	binary.BigEndian.PutUint64(b[8:16], h.Counter)
	return b
}

// Parse splits raw into its header and body. The body aliases raw.
func Parse(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderLen {
		return Header{}, nil, ErrShortFrame
	}
	if raw[0] != magic[0] || raw[1] != magic[1] {
		return Header{}, nil, ErrBadMagic
	}
	h := Header{
		Version: raw[2],
		Type:    Type(raw[3]),
		Epoch:   binary.BigEndian.Uint32(raw[4:8]),
		Counter: binary.BigEndian.Uint64(raw[8:16]),
	}
	if h.Version != Version {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, raw[HeaderLen:], nil
}

// Plain builds an unencrypted frame of type t.
func Plain(t Type, body []byte) []byte {
	h := Header{Version: Version, Type: t}
	return append(h.Encode(), body...)
}

// Seal encrypts plaintext under key and returns the complete frame.
func Seal(key []byte, h Header, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	h.Version = Version
	hb := h.Encode()
	return aead.Seal(hb, nonce(h), plaintext, hb), nil
}

// Open authenticates and decrypts the body of raw under key. It does not
// look at counters; ordering is the caller's concern.
func Open(key []byte, raw []byte) (Header, []byte, error) {
	h, body, err := Parse(raw)
	if err != nil {
		return Header{}, nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Header{}, nil, err
	}
	pt, err := aead.Open(nil, nonce(h), body, raw[:HeaderLen])
	if err != nil {
		return Header{}, nil, ErrOpen
	}
	return h, pt, nil
}

func nonce(h Header) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(n[0:4], h.Epoch)
	binary.BigEndian.PutUint64(n[4:12], h.Counter)
	return n
}

// Limits constrains stream decode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

// DefaultLimits allows frames up to 4 MiB.
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 4 << 20}
}

// Write writes one length-prefixed frame.
func Write(w io.Writer, raw []byte, limits Limits) error {
	if uint64(len(raw)) > uint64(limits.MaxFrameBytes) {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(raw)))
	copy(buf[4:], raw)
	_, err := w.Write(buf)
	return err
}

// Read reads one length-prefixed frame.
func Read(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	if n < HeaderLen {
		return nil, ErrShortFrame
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	return raw, nil
}
