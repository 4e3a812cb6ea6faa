// Package primary plays the primary device and its relay for local
// development and tests.
//
// A Primary confirms scanned pairing payloads, answers handshakes, decrypts
// the device's frames into envelopes and can push envelopes back. It
// acknowledges every user message with a receipt unless told otherwise.
// It keeps everything in memory.
package primary
