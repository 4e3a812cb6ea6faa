package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"tether/internal/domain"
)

// Fingerprint returns a short hex fingerprint of a public key, grouped in
// blocks of four for reading aloud.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub []byte) domain.Fingerprint {
	sum := sha256.Sum256(pub)
	h := hex.EncodeToString(sum[:10])
	var b strings.Builder
	for i := 0; i < len(h); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(h[i : i+4])
	}
	return domain.Fingerprint(b.String())
}

// DeviceIDFor derives the stable device id from the identity signing key.
func DeviceIDFor(pub domain.Ed25519Public) domain.DeviceID {
	sum := blake3.Sum256(pub[:])
	return domain.DeviceID("dev-" + hex.EncodeToString(sum[:8]))
}
