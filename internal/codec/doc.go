// Package codec converts envelopes to and from the plaintext carried inside
// data frames.
//
// A payload is one flags byte followed by a CBOR body. The body uses
// integer map keys and Core Deterministic Encoding (RFC 8949 §4.2), so the
// same envelope always yields the same bytes. Decoding ignores keys it does
// not know and flag bits it does not know, so newer peers can add fields
// without breaking older ones.
//
// Rich text travels as the full text plus a list of ranges, in rune
// offsets, that must tile the text exactly: sorted, contiguous, non-empty
// and ending at the last rune. Anything else is ErrMalformed.
//
// Bodies above CompressThreshold are zstd-compressed when that makes them
// smaller (flag 0x02).
//
// Marshal and Unmarshal expose the same CBOR configuration for the other
// structures exchanged with the relay (handshake messages, confirmations).
package codec
