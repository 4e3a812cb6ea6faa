package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"tether/internal/crypto"
	"tether/internal/domain"
)

// MinPassphraseLength is the shortest passphrase, in characters, accepted
// for a new key store.
const MinPassphraseLength = 12

// ErrWeakPassphrase is returned when a new passphrase fails the strength
// policy. The wrapping error names what is missing.
var ErrWeakPassphrase = errors.New("passphrase is too weak")

// Service manages the device identity held by the key store.
//
// The identity is a single Ed25519 key pair. Its public half is shown to the
// primary in the pairing payload and signs every transport handshake.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// Identity returns the device identity, creating it on first use, plus a
// short fingerprint of its public key.
func (s *Service) Identity() (domain.DeviceIdentity, domain.Fingerprint, error) {
	return withFingerprint(s.store.LoadOrCreateIdentity())
}

// Fingerprint returns a short fingerprint of the identity public key.
func (s *Service) Fingerprint() (domain.Fingerprint, error) {
	_, fp, err := s.Identity()
	return fp, err
}

// Reregister replaces the identity. Any linked session is discarded and the
// device must pair again.
func (s *Service) Reregister() (domain.DeviceIdentity, domain.Fingerprint, error) {
	return withFingerprint(s.store.ResetIdentity())
}

func withFingerprint(id domain.DeviceIdentity, err error) (domain.DeviceIdentity, domain.Fingerprint, error) {
	if err != nil {
		return domain.DeviceIdentity{}, "", err
	}
	return id, crypto.Fingerprint(id.SigningKey.Slice()), nil
}

var passphraseClasses = []struct {
	name string
	in   func(rune) bool
}{
	{"an upper-case letter", unicode.IsUpper},
	{"a lower-case letter", unicode.IsLower},
	{"a digit", unicode.IsDigit},
	{"a symbol", func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }},
}

// CheckPassphrase enforces the strength policy for a new key store: at
// least MinPassphraseLength characters drawn from every class above.
func CheckPassphrase(passphrase string) error {
	var missing []string
	if n := utf8.RuneCountInString(passphrase); n < MinPassphraseLength {
		missing = append(missing, fmt.Sprintf("%d more characters", MinPassphraseLength-n))
	}
	for _, c := range passphraseClasses {
		if !strings.ContainsFunc(passphrase, c.in) {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: needs %s", ErrWeakPassphrase, strings.Join(missing, ", "))
	}
	return nil
}
