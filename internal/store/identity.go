package store

import (
	"errors"
	"fmt"

	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/secret"
)

// ErrNoIdentity is returned by Sign before an identity exists.
var ErrNoIdentity = errors.New("no device identity")

type identity struct {
	info    domain.DeviceIdentity
	signing *secret.Buffer
}

func (id *identity) close() {
	if id != nil {
		_ = id.signing.Close()
	}
}

type identityRecord struct {
	Identity domain.DeviceIdentity `json:"identity"`
	Private  []byte                `json:"private"`
}

func (s *KeyStore) loadIdentity() (*identity, error) {
	var rec identityRecord
	ok, err := s.readRecord(identityFile, kindIdentity, &rec)
	if err != nil || !ok {
		return nil, err
	}
	if len(rec.Private) != len(domain.Ed25519Private{}) {
		crypto.Wipe(rec.Private)
		return nil, fmt.Errorf("%w: identity key has %d bytes", domain.ErrStoreCorrupt, len(rec.Private))
	}
	buf, err := secret.NewFromBytes(rec.Private)
	if err != nil {
		return nil, err
	}
	return &identity{info: rec.Identity, signing: buf}, nil
}

// LoadOrCreateIdentity returns the device identity, generating and
// persisting one on first use.
func (s *KeyStore) LoadOrCreateIdentity() (domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.DeviceIdentity{}, err
	}
	if s.identity != nil {
		return s.identity.info, nil
	}
	id, err := s.newIdentity()
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	s.identity = id
	return id.info, nil
}

// ResetIdentity replaces the identity with a fresh one. The linked session,
// if any, is bound to the old identity and is discarded first.
func (s *KeyStore) ResetIdentity() (domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.DeviceIdentity{}, err
	}
	if err := s.dropSession(); err != nil {
		return domain.DeviceIdentity{}, err
	}
	id, err := s.newIdentity()
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	s.identity.close()
	s.identity = id
	s.log.Info().Str("device_id", string(id.info.DeviceID)).Msg("identity reset")
	return id.info, nil
}

// Identity returns the current identity without creating one.
func (s *KeyStore) Identity() (domain.DeviceIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.DeviceIdentity{}, false
	}
	return s.identity.info, true
}

// Sign signs msg with the identity key.
func (s *KeyStore) Sign(msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.identity == nil {
		return nil, ErrNoIdentity
	}
	var sig []byte
	err := s.identity.signing.View(func(priv []byte) error {
		sig = crypto.SignEd25519(priv, msg)
		return nil
	})
	return sig, err
}

// newIdentity generates and persists an identity; s.mu must be held.
func (s *KeyStore) newIdentity() (*identity, error) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	info := domain.DeviceIdentity{
		DeviceID:   crypto.DeviceIDFor(pub),
		SigningKey: pub,
		CreatedAt:  s.now().UTC(),
	}
	rec := identityRecord{Identity: info, Private: priv[:]}
	err = s.writeRecord(identityFile, kindIdentity, rec)
	if err != nil {
		priv.Wipe()
		return nil, err
	}
	buf, err := secret.NewFromBytes(priv[:])
	if err != nil {
		return nil, err
	}
	return &identity{info: info, signing: buf}, nil
}
