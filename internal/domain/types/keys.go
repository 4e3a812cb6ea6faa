package types

import "runtime"

// Key sizes in bytes.
const (
	X25519KeySize         = 32
	Ed25519PublicKeySize  = 32
	Ed25519PrivateKeySize = 64
)

// X25519Public is a Curve25519 public key: the link key in a pairing
// payload or the primary's ratchet key in a confirmation.
type X25519Public [X25519KeySize]byte

// X25519Private is a Curve25519 private key. Long-lived copies belong in
// a secret.Buffer; values of this type are for short-lived use.
type X25519Private [X25519KeySize]byte

// Ed25519Public is a device or primary signing key.
type Ed25519Public [Ed25519PublicKeySize]byte

// Ed25519Private is an Ed25519 seed followed by its public key.
type Ed25519Private [Ed25519PrivateKeySize]byte

func (p X25519Public) Slice() []byte { return p[:] }
func (k X25519Private) Slice() []byte { return k[:] }
func (p Ed25519Public) Slice() []byte { return p[:] }
func (k Ed25519Private) Slice() []byte { return k[:] }

// IsZero reports whether the key was never set. An all-zero key on the
// wire means a missing field.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }
func (p Ed25519Public) IsZero() bool { return p == Ed25519Public{} }

// Wipe zeroes the key in place.
func (k *X25519Private) Wipe() {
	clear(k[:])
	runtime.KeepAlive(k)
}

// Wipe zeroes the key in place.
func (k *Ed25519Private) Wipe() {
	clear(k[:])
	runtime.KeepAlive(k)
}
