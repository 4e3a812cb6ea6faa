package types

import (
	"fmt"
	"time"
)

// LinkState is the state of a LinkingSession.
type LinkState uint8

const (
	LinkIdle LinkState = iota
	LinkPending
	LinkConfirmed
	LinkExpired
	LinkRejected
)

// String returns a lower-case state name.
func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkPending:
		return "pending"
	case LinkConfirmed:
		return "confirmed"
	case LinkExpired:
		return "expired"
	case LinkRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition out of s is possible
// within the same linking attempt.
func (s LinkState) Terminal() bool {
	return s == LinkConfirmed || s == LinkExpired || s == LinkRejected
}

// PairingPayload is what the primary device scans. It is the only part of a
// LinkingSession that leaves the device.
type PairingPayload struct {
	Ref       string
	Ephemeral X25519Public
	Nonce     [16]byte
	AdvSecret [32]byte
	Identity  Ed25519Public
	ExpiresAt time.Time
}

// LinkConfirmation is the primary device's answer to a scanned payload.
type LinkConfirmation struct {
	Ref             string        `cbor:"1,keyasint"`
	Nonce           []byte        `cbor:"2,keyasint"`
	PrimaryIdentity Ed25519Public `cbor:"3,keyasint"`
	PrimaryRatchet  X25519Public  `cbor:"4,keyasint"`
	AccountID       string        `cbor:"5,keyasint"`
	DeviceID        DeviceID      `cbor:"6,keyasint"`
	SessionID       string        `cbor:"7,keyasint"`
	AdvMAC          []byte        `cbor:"8,keyasint"`
	Signature       []byte        `cbor:"9,keyasint"`
}
