package domain

import "errors"

// Pairing.
var (
	// ErrPairingInProgress is returned by Begin while another attempt is pending.
	ErrPairingInProgress = errors.New("pairing already in progress")
	// ErrPairingRejected is returned when a confirmation fails verification.
	ErrPairingRejected = errors.New("pairing rejected")
	// ErrPairingExpired is returned when no valid confirmation arrived in time.
	ErrPairingExpired = errors.New("pairing expired")
	// ErrAlreadyLinked is returned when pairing starts while a session exists.
	ErrAlreadyLinked = errors.New("device already linked")
)

// Channel and session.
var (
	ErrNotLinked = errors.New("device not linked")
	// ErrReplayOrOutOfOrder is returned for a frame whose counter is not the
	// next expected value. The frame is dropped; the connection is kept.
	ErrReplayOrOutOfOrder = errors.New("frame replayed or out of order")
	// ErrFrameAuth is returned when a frame fails authentication.
	ErrFrameAuth = errors.New("frame authentication failed")
	// ErrChannelUnavailable is returned once reconnect attempts are exhausted.
	ErrChannelUnavailable = errors.New("secure channel unavailable")
	// ErrHandshakeFailed is an irrecoverable transport handshake failure.
	ErrHandshakeFailed = errors.New("transport handshake failed")
	// ErrSessionRevoked is returned when the relay no longer knows the session.
	ErrSessionRevoked = errors.New("session revoked by primary device")
	// ErrCounterExhausted is returned when a chain counter or epoch would wrap.
	ErrCounterExhausted = errors.New("session counter exhausted")
)

// Codec and storage.
var (
	ErrMalformed    = errors.New("malformed payload")
	ErrStoreCorrupt = errors.New("key store corrupt")
)

// Messages.
var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrUnknownMessage  = errors.New("unknown message")
)
