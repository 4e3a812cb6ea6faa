package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"tether/internal/domain"
)

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	Wipe(sk)
	return priv, pub, nil
}

// SignEd25519 signs msg with the 64-byte private key and returns the signature.
// priv may live outside the Go heap (a locked secret buffer): crypto/ed25519
// caches expanded keys by pointer and only accepts heap pointers, so it signs
// with a heap copy that is wiped afterwards.
func SignEd25519(priv []byte, msg []byte) []byte {
	key := make(ed25519.PrivateKey, len(priv))
	copy(key, priv)
	defer Wipe(key)
	return ed25519.Sign(key, msg)
}

// VerifyEd25519 verifies sig over msg with pub.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}
