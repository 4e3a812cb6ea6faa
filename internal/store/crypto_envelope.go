package store

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"

	"tether/internal/domain"
)

const (
	// The current supported version of the sealed record format stored on disk.
	recordFormatVersion = 1

	// DefaultWorkFactor is the scrypt log2(N) used to wrap the store key.
	DefaultWorkFactor = 18

	storeKeySize = chacha20poly1305.KeySize
)

var (
	// ErrWrongPassphrase is returned when the store key cannot be unwrapped.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// blob is the on-disk JSON structure holding one sealed record.
type blob struct {
	V      int    `json:"v"`
	Kind   string `json:"kind"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// seal encrypts raw under key, binding it to kind.
func seal(key []byte, kind string, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, additionalData(kind))
	return json.Marshal(blob{
		V:      recordFormatVersion,
		Kind:   kind,
		Nonce:  nonce,
		Cipher: ct,
	})
}

// unseal opens a blob produced by seal for the same kind. Any mismatch is
// reported as domain.ErrStoreCorrupt.
func unseal(key []byte, kind string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStoreCorrupt, kind, err)
	}
	if bl.V != recordFormatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported record version %d", domain.ErrStoreCorrupt, kind, bl.V)
	}
	if bl.Kind != kind {
		return nil, fmt.Errorf("%w: %s: record holds %q", domain.ErrStoreCorrupt, kind, bl.Kind)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: %s: bad nonce", domain.ErrStoreCorrupt, kind)
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, additionalData(kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: integrity check failed", domain.ErrStoreCorrupt, kind)
	}
	return pt, nil
}

func additionalData(kind string) []byte {
	return []byte("tether-store-v1/" + kind)
}

// wrapKey encrypts the store key to an age scrypt recipient.
func wrapKey(passphrase string, key []byte, workFactor int) ([]byte, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, err
	}
	r.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(key); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unwrapKey reverses wrapKey.
func unwrapKey(passphrase string, b []byte) ([]byte, error) {
	id, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(b), id)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("%w: store key: %v", domain.ErrStoreCorrupt, err)
	}
	key, err := io.ReadAll(io.LimitReader(r, storeKeySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: store key: %v", domain.ErrStoreCorrupt, err)
	}
	if len(key) != storeKeySize {
		return nil, fmt.Errorf("%w: store key has %d bytes", domain.ErrStoreCorrupt, len(key))
	}
	return key, nil
}
