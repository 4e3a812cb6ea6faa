package types

import "time"

// ChainState is the position of one direction of a linked session.
//
// Counter is the next counter to send (or the next expected on receive).
// Counters never decrease for the lifetime of a session.
type ChainState struct {
	Counter   uint64    `json:"counter"`
	Epoch     uint32    `json:"epoch"`
	Frames    uint64    `json:"frames"`
	RotatedAt time.Time `json:"rotated_at"`
}

// SessionInfo is the public part of a DeviceSession: everything except the
// key material.
type SessionInfo struct {
	SessionID       string        `json:"session_id"`
	AccountID       string        `json:"account_id"`
	DeviceID        DeviceID      `json:"device_id"`
	PrimaryIdentity Ed25519Public `json:"primary_identity"`
	Send            ChainState    `json:"send"`
	Recv            ChainState    `json:"recv"`
	LinkedAt        time.Time     `json:"linked_at"`
}
