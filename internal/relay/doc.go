// Package relay provides the transports between a linked device and the
// relay that fronts its primary device.
//
// A transport carries whole frames (see package frame) and knows nothing
// about their content. Two transports are provided: length-prefixed frames
// over a byte stream (TCP, or net.Pipe in tests) and one frame per message
// over NATS subjects derived from the session id. Both also offer a
// Rendezvous on which the pairing manager waits for the primary's
// confirmation.
package relay
