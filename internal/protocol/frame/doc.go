// Package frame defines the binary frame exchanged with the relay.
//
// On a stream transport every frame is preceded by a 4-byte big-endian
// length. A frame starts with a fixed 16-byte header:
//
//	magic   [2]byte  'T' 'L'
//	version uint8
//	type    uint8
//	epoch   uint32   ratchet epoch of the sending chain
//	counter uint64   per-direction frame counter
//
// Data frames carry a ChaCha20-Poly1305 body sealed with the chain key of
// the header epoch; the nonce is epoch||counter and the whole header is the
// additional data, so any header bit flip fails authentication. Handshake
// and rendezvous frames carry plaintext bodies whose contents are
// authenticated by their own proofs.
package frame
