// Package channel is the persistent secure channel between a linked device
// and its primary, carried over a relay connection.
//
// Each connection starts with the Hello/Welcome handshake (see package
// handshake), after which one reader goroutine and one writer goroutine run
// until either fails. The writer is the only caller of the key store's
// SealFrame and the reader the only caller of OpenFrame, so send and
// receive counters each have a single owner. Outbound and inbound queues
// are bounded.
//
// Lost connections are redialled with exponential backoff. After
// MaxAttempts consecutive failures Run returns ErrChannelUnavailable and
// waiting senders are released with the same error. A revoked session or
// a failed handshake proof is not retried: the session is invalidated and
// the device must pair again.
package channel
