package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/secret"
)

const (
	plainKeyFile = "store.key"
	keyFile      = "store.key.age"
	identityFile = "identity.enc"
	sessionFile  = "session.enc"

	kindIdentity = "identity"
	kindSession  = "session"
)

// Options tunes a KeyStore.
type Options struct {
	// WorkFactor is the scrypt log2(N) for a newly created store key.
	// Zero means DefaultWorkFactor.
	WorkFactor int
	Logger     zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// KeyStore is the device's encrypted key store.
type KeyStore struct {
	dir string
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	storeKey *secret.Buffer
	identity *identity
	session  *session
	// discarded is why an unreadable session was dropped at open.
	discarded error
	closed    bool
}

// Open unlocks (or creates) the key store in dir.
func Open(dir, passphrase string, opts Options) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if opts.WorkFactor == 0 {
		opts.WorkFactor = DefaultWorkFactor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &KeyStore{
		dir: dir,
		log: opts.Logger.With().Str("component", "keystore").Logger(),
		now: opts.Now,
	}
	if err := s.unlock(passphrase, opts.WorkFactor); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// unlock loads the store key, creating it on first use. An empty
// passphrase keeps the key unwrapped in store.key.
func (s *KeyStore) unlock(passphrase string, workFactor int) error {
	name := keyFile
	if passphrase == "" {
		name = plainKeyFile
	}
	stored, err := readFile(s.path(name))
	if err != nil {
		return err
	}
	if stored == nil {
		return s.createKey(name, passphrase, workFactor)
	}
	var key []byte
	if passphrase == "" {
		if len(stored) != storeKeySize {
			return fmt.Errorf("%w: store key has %d bytes", domain.ErrStoreCorrupt, len(stored))
		}
		key = stored
	} else if key, err = unwrapKey(passphrase, stored); err != nil {
		return err
	}
	s.storeKey, err = secret.NewFromBytes(key)
	return err
}

func (s *KeyStore) createKey(name, passphrase string, workFactor int) error {
	for _, other := range []string{plainKeyFile, keyFile, identityFile} {
		existing, err := readFile(s.path(other))
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		if other == identityFile {
			return fmt.Errorf("%w: records present without a store key", domain.ErrStoreCorrupt)
		}
		if passphrase == "" {
			return fmt.Errorf("%w: store key is passphrase protected", ErrWrongPassphrase)
		}
		return fmt.Errorf("%w: store key is not passphrase protected", ErrWrongPassphrase)
	}
	key := make([]byte, storeKeySize)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	out := key
	if passphrase != "" {
		var err error
		if out, err = wrapKey(passphrase, key, workFactor); err != nil {
			crypto.Wipe(key)
			return err
		}
	}
	if err := writeFile(s.path(name), out, 0o600); err != nil {
		crypto.Wipe(key)
		return err
	}
	s.log.Info().Str("dir", s.dir).Bool("passphrase", passphrase != "").Msg("created key store")
	var err error
	s.storeKey, err = secret.NewFromBytes(key)
	return err
}

func (s *KeyStore) load() error {
	id, err := s.loadIdentity()
	if err != nil {
		return err
	}
	s.identity = id
	sess, err := s.loadSession()
	if errors.Is(err, domain.ErrStoreCorrupt) {
		// A corrupt session ends the link; the identity survives and the
		// device can pair again.
		s.log.Error().Err(err).Msg("discarding unreadable device session, pair again")
		if rerr := removeFile(s.path(sessionFile)); rerr != nil {
			return errors.Join(err, rerr)
		}
		s.discarded = err
		return nil
	}
	if err != nil {
		return err
	}
	s.session = sess
	return nil
}

// DiscardedSession returns why the stored session was dropped when the
// store was opened, or nil. It is cleared once a new session is installed.
func (s *KeyStore) DiscardedSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

// Close wipes every secret held in memory.
func (s *KeyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.identity.close()
	s.identity = nil
	s.session.close()
	s.session = nil
	return s.storeKey.Close()
}

// writeRecord seals v as kind and writes it to name.
func (s *KeyStore) writeRecord(name, kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)
	var b []byte
	err = s.storeKey.View(func(key []byte) error {
		var err error
		b, err = seal(key, kind, raw)
		return err
	})
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, name), b, 0o600)
}

// readRecord reads and opens name into v; ok is false when it is absent.
func (s *KeyStore) readRecord(name, kind string, v any) (ok bool, err error) {
	b, err := readFile(filepath.Join(s.dir, name))
	if err != nil || b == nil {
		return false, err
	}
	var raw []byte
	err = s.storeKey.View(func(key []byte) error {
		var err error
		raw, err = unseal(key, kind, b)
		return err
	})
	if err != nil {
		return false, err
	}
	defer crypto.Wipe(raw)
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrStoreCorrupt, kind, err)
	}
	return true, nil
}

func (s *KeyStore) checkOpen() error {
	if s.closed {
		return secret.ErrClosed
	}
	return nil
}

func (s *KeyStore) path(name string) string { return filepath.Join(s.dir, name) }

var (
	_ domain.IdentityStore = (*KeyStore)(nil)
	_ domain.SessionStore  = (*KeyStore)(nil)
)

// Protected reports whether the key store in dir exists with a
// passphrase-wrapped store key.
func Protected(dir string) (bool, error) {
	b, err := readFile(filepath.Join(dir, keyFile))
	return b != nil, err
}
