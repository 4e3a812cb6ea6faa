// Package handshake defines the per-connection transport handshake.
//
// The device opens every connection with a Hello naming its session and
// announcing both chain positions, authenticated twice: an HMAC under the
// session root key and an Ed25519 signature by the device identity. The
// relay answers with a Welcome carrying its own send position and an HMAC
// over both messages. Positions only ever move receivers forward, which
// keeps counters unique across reconnects.
package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Status is the relay's verdict on a Hello.
type Status uint8

const (
	StatusOK Status = iota + 1
	StatusUnknownSession
	StatusBadProof
)

// NonceSize is the size of handshake nonces.
const NonceSize = 32

// Hello opens a connection.
type Hello struct {
	SessionID   string `cbor:"1,keyasint"`
	DeviceID    string `cbor:"2,keyasint"`
	Nonce       []byte `cbor:"3,keyasint"`
	SendCounter uint64 `cbor:"4,keyasint"`
	SendEpoch   uint32 `cbor:"5,keyasint"`
	RecvCounter uint64 `cbor:"6,keyasint"`
	RecvEpoch   uint32 `cbor:"7,keyasint"`
	Proof       []byte `cbor:"8,keyasint"`
	Signature   []byte `cbor:"9,keyasint"`
}

// Welcome answers a Hello.
type Welcome struct {
	Status      Status `cbor:"1,keyasint"`
	Nonce       []byte `cbor:"2,keyasint"`
	SendCounter uint64 `cbor:"3,keyasint"`
	SendEpoch   uint32 `cbor:"4,keyasint"`
	Proof       []byte `cbor:"5,keyasint"`
}

// HelloTranscript is what Hello.Proof and Hello.Signature cover.
func HelloTranscript(h Hello) []byte {
	b := []byte("tether-hello-v1")
	b = field(b, []byte(h.SessionID))
	b = field(b, []byte(h.DeviceID))
	b = field(b, h.Nonce)
	b = binary.BigEndian.AppendUint64(b, h.SendCounter)
	b = binary.BigEndian.AppendUint32(b, h.SendEpoch)
	b = binary.BigEndian.AppendUint64(b, h.RecvCounter)
	b = binary.BigEndian.AppendUint32(b, h.RecvEpoch)
	return b
}

// WelcomeTranscript is what Welcome.Proof covers. It binds the Hello.
func WelcomeTranscript(h Hello, w Welcome) []byte {
	b := []byte("tether-welcome-v1")
	b = field(b, HelloTranscript(h))
	b = append(b, byte(w.Status))
	b = field(b, w.Nonce)
	b = binary.BigEndian.AppendUint64(b, w.SendCounter)
	b = binary.BigEndian.AppendUint32(b, w.SendEpoch)
	return b
}

// MAC computes HMAC-SHA256 of transcript under root.
func MAC(root, transcript []byte) []byte {
	m := hmac.New(sha256.New, root)
	m.Write(transcript)
	return m.Sum(nil)
}

func field(b, f []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(f)))
	return append(b, f...)
}
