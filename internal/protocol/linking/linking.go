package linking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tether/internal/crypto"
	"tether/internal/domain"
)

const (
	// MaterialSize is the length of derived session material.
	MaterialSize = 96

	sessionInfo     = "tether-link-v1"
	confirmationTag = "tether-link-confirm-v1"
)

// Role selects which half of the material a side sends with.
type Role uint8

const (
	RoleDevice Role = iota + 1
	RolePrimary
)

// EncodePayload renders p in the comma-separated text form carried by the
// pairing code.
func EncodePayload(p domain.PairingPayload) string {
	return strings.Join([]string{
		p.Ref,
		crypto.B64(p.Ephemeral[:]),
		crypto.B64(p.Nonce[:]),
		crypto.B64(p.AdvSecret[:]),
		crypto.B64(p.Identity[:]),
		strconv.FormatInt(p.ExpiresAt.Unix(), 10),
	}, ",")
}

// ParsePayload parses the output of EncodePayload.
func ParsePayload(s string) (domain.PairingPayload, error) {
	var p domain.PairingPayload
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 6 {
		return p, fmt.Errorf("%w: pairing payload has %d fields", domain.ErrMalformed, len(parts))
	}
	if parts[0] == "" {
		return p, fmt.Errorf("%w: pairing payload has empty ref", domain.ErrMalformed)
	}
	p.Ref = parts[0]
	fields := []struct {
		name string
		dst  []byte
		raw  string
	}{
		{"ephemeral", p.Ephemeral[:], parts[1]},
		{"nonce", p.Nonce[:], parts[2]},
		{"adv", p.AdvSecret[:], parts[3]},
		{"identity", p.Identity[:], parts[4]},
	}
	for _, f := range fields {
		b, err := crypto.FromB64(f.raw)
		if err != nil || len(b) != len(f.dst) {
			return p, fmt.Errorf("%w: pairing payload field %s", domain.ErrMalformed, f.name)
		}
		copy(f.dst, b)
	}
	if p.Ephemeral.IsZero() || p.Identity.IsZero() {
		return p, fmt.Errorf("%w: pairing payload has an empty key", domain.ErrMalformed)
	}
	exp, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return p, fmt.Errorf("%w: pairing payload expiry", domain.ErrMalformed)
	}
	p.ExpiresAt = time.Unix(exp, 0)
	return p, nil
}

// Details is the transcript that the ADV MAC and the primary's signature
// cover.
func Details(p domain.PairingPayload, c domain.LinkConfirmation) []byte {
	var b []byte
	b = append(b, confirmationTag...)
	b = appendField(b, []byte(p.Ref))
	b = appendField(b, p.Nonce[:])
	b = appendField(b, p.Ephemeral[:])
	b = appendField(b, p.Identity[:])
	b = appendField(b, c.PrimaryIdentity[:])
	b = appendField(b, c.PrimaryRatchet[:])
	b = appendField(b, []byte(c.AccountID))
	b = appendField(b, []byte(c.DeviceID))
	b = appendField(b, []byte(c.SessionID))
	return b
}

func appendField(b, f []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(f)))
	return append(b, f...)
}

// AdvMAC computes the MAC a confirmer proves payload knowledge with.
func AdvMAC(adv [32]byte, details []byte) []byte {
	m := hmac.New(sha256.New, adv[:])
	m.Write(details)
	return m.Sum(nil)
}

// Confirm completes c for payload p: fills in ref, nonce, ADV MAC and the
// signature made with the primary's 64-byte signing key.
func Confirm(p domain.PairingPayload, c domain.LinkConfirmation, signingKey []byte) domain.LinkConfirmation {
	c.Ref = p.Ref
	c.Nonce = append([]byte(nil), p.Nonce[:]...)
	d := Details(p, c)
	c.AdvMAC = AdvMAC(p.AdvSecret, d)
	c.Signature = crypto.SignEd25519(signingKey, d)
	return c
}

// Verify checks confirmation c against the payload it claims to answer.
// Every failure wraps domain.ErrPairingRejected.
func Verify(p domain.PairingPayload, c domain.LinkConfirmation) error {
	if c.Ref != p.Ref {
		return fmt.Errorf("%w: ref mismatch", domain.ErrPairingRejected)
	}
	if !hmac.Equal(c.Nonce, p.Nonce[:]) {
		return fmt.Errorf("%w: nonce mismatch", domain.ErrPairingRejected)
	}
	if c.SessionID == "" || c.AccountID == "" {
		return fmt.Errorf("%w: missing session identifiers", domain.ErrPairingRejected)
	}
	if c.PrimaryIdentity.IsZero() || c.PrimaryRatchet.IsZero() {
		return fmt.Errorf("%w: missing primary keys", domain.ErrPairingRejected)
	}
	d := Details(p, c)
	if !hmac.Equal(c.AdvMAC, AdvMAC(p.AdvSecret, d)) {
		return fmt.Errorf("%w: bad adv mac", domain.ErrPairingRejected)
	}
	if !crypto.VerifyEd25519(c.PrimaryIdentity, d, c.Signature) {
		return fmt.Errorf("%w: bad signature", domain.ErrPairingRejected)
	}
	return nil
}

// DeriveMaterial expands a shared X25519 secret into session material.
func DeriveMaterial(shared []byte, nonce [16]byte) ([]byte, error) {
	return crypto.HKDF(shared, nonce[:], []byte(sessionInfo), MaterialSize)
}

// Split returns views of the root, send and receive keys for role. The
// views alias material.
func Split(material []byte, role Role) (root, send, recv []byte) {
	root, d2p, p2d := material[0:32], material[32:64], material[64:96]
	if role == RolePrimary {
		return root, p2d, d2p
	}
	return root, d2p, p2d
}
