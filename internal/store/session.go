package store

import (
	"fmt"

	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/handshake"
	"tether/internal/protocol/linking"
	"tether/internal/protocol/ratchet"
	"tether/internal/secret"
)

// session is the in-memory DeviceSession.
type session struct {
	info             domain.SessionInfo
	root, send, recv *secret.Buffer
}

func (s *session) close() {
	if s == nil {
		return
	}
	_ = s.root.Close()
	_ = s.send.Close()
	_ = s.recv.Close()
}

type sessionRecord struct {
	Info domain.SessionInfo `json:"info"`
	Root []byte             `json:"root"`
	Send []byte             `json:"send"`
	Recv []byte             `json:"recv"`
}

func (s *KeyStore) loadSession() (*session, error) {
	var rec sessionRecord
	ok, err := s.readRecord(sessionFile, kindSession, &rec)
	if err != nil || !ok {
		return nil, err
	}
	defer func() {
		crypto.Wipe(rec.Root)
		crypto.Wipe(rec.Send)
		crypto.Wipe(rec.Recv)
	}()
	for _, k := range [][]byte{rec.Root, rec.Send, rec.Recv} {
		if len(k) != frame.KeySize {
			return nil, fmt.Errorf("%w: session key has %d bytes", domain.ErrStoreCorrupt, len(k))
		}
	}
	return newSession(rec.Info, rec.Root, rec.Send, rec.Recv)
}

// newSession copies the keys into locked buffers.
func newSession(info domain.SessionInfo, root, send, recv []byte) (*session, error) {
	sess := &session{info: info}
	var err error
	for _, p := range []struct {
		dst **secret.Buffer
		key []byte
	}{{&sess.root, root}, {&sess.send, send}, {&sess.recv, recv}} {
		*p.dst, err = secret.NewFromBytes(append([]byte(nil), p.key...))
		if err != nil {
			sess.close()
			return nil, err
		}
	}
	return sess, nil
}

// LinkKey is the ephemeral X25519 key of one pairing attempt. It is usable
// for exactly one agreement and must be closed afterwards.
type LinkKey struct {
	pub  domain.X25519Public
	priv *secret.Buffer
}

// NewLinkKey generates an ephemeral link key.
func (s *KeyStore) NewLinkKey() (*LinkKey, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	buf, err := secret.NewFromBytes(priv[:])
	if err != nil {
		return nil, err
	}
	return &LinkKey{pub: pub, priv: buf}, nil
}

// Public returns the public half shown in the pairing payload.
func (k *LinkKey) Public() domain.X25519Public { return k.pub }

// Agree derives the session material shared with peer. The private key is
// destroyed afterwards whatever the outcome.
func (k *LinkKey) Agree(peer domain.X25519Public, nonce [16]byte) (*secret.Buffer, error) {
	var material []byte
	err := k.priv.View(func(priv []byte) error {
		shared, err := crypto.DH(priv, peer)
		if err != nil {
			return err
		}
		defer crypto.Wipe(shared[:])
		material, err = linking.DeriveMaterial(shared[:], nonce)
		return err
	})
	_ = k.Close()
	if err != nil {
		return nil, err
	}
	return secret.NewFromBytes(material)
}

// Close destroys the private key.
func (k *LinkKey) Close() error {
	if k == nil {
		return nil
	}
	return k.priv.Close()
}

// NewDeviceSession installs the session derived from material. Chain
// positions start at zero and the link time is stamped here.
func (s *KeyStore) NewDeviceSession(info domain.SessionInfo, material *secret.Buffer) (domain.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.SessionInfo{}, err
	}
	if s.session != nil {
		return domain.SessionInfo{}, domain.ErrAlreadyLinked
	}
	now := s.now().UTC()
	info.LinkedAt = now
	info.Send = domain.ChainState{RotatedAt: now}
	info.Recv = domain.ChainState{RotatedAt: now}

	var sess *session
	err := material.View(func(m []byte) error {
		if len(m) != linking.MaterialSize {
			return fmt.Errorf("session material has %d bytes", len(m))
		}
		root, send, recv := linking.Split(m, linking.RoleDevice)
		rec := sessionRecord{Info: info, Root: root, Send: send, Recv: recv}
		if err := s.writeRecord(sessionFile, kindSession, rec); err != nil {
			return err
		}
		var err error
		sess, err = newSession(info, root, send, recv)
		return err
	})
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.session = sess
	s.discarded = nil
	s.log.Info().
		Str("session_id", info.SessionID).
		Str("account_id", info.AccountID).
		Msg("device session installed")
	return info, nil
}

// CurrentSession returns the public state of the linked session.
func (s *KeyStore) CurrentSession() (domain.SessionInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return domain.SessionInfo{}, false, err
	}
	if s.session == nil {
		return domain.SessionInfo{}, false, nil
	}
	return s.session.info, true, nil
}

// InvalidateSession deletes the session and wipes its keys.
func (s *KeyStore) InvalidateSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.dropSession()
}

func (s *KeyStore) dropSession() error {
	if err := removeFile(s.path(sessionFile)); err != nil {
		return err
	}
	if s.session != nil {
		s.log.Info().Str("session_id", s.session.info.SessionID).Msg("device session invalidated")
	}
	s.session.close()
	s.session = nil
	return nil
}

// MAC authenticates a handshake transcript under the session root key.
func (s *KeyStore) MAC(transcript []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	var mac []byte
	err = sess.root.View(func(root []byte) error {
		mac = handshake.MAC(root, transcript)
		return nil
	})
	return mac, err
}

// SealFrame encrypts plaintext as the next frame of the send chain. The
// advanced position is on disk before the frame is returned.
func (s *KeyStore) SealFrame(t frame.Type, plaintext []byte, p ratchet.Policy) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	var (
		raw        []byte
		prev, next ratchet.Chain
	)
	err = sess.send.View(func(key []byte) error {
		prev = ratchet.Chain{Key: key, State: sess.info.Send}
		var err error
		raw, next, err = ratchet.Seal(prev, t, plaintext, p, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	info := sess.info
	info.Send = next.State
	if !ratchet.Rotated(prev, next) {
		if err := s.persistSession(sess, info, nil, nil); err != nil {
			return nil, err
		}
		sess.info = info
		return raw, nil
	}
	if err := s.commitRotation(sess, info, &sess.send, next.Key, true); err != nil {
		return nil, err
	}
	return raw, nil
}

// OpenFrame authenticates and decrypts raw with the receive chain. On any
// error the chain is left untouched.
func (s *KeyStore) OpenFrame(raw []byte) (frame.Header, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.current()
	if err != nil {
		return frame.Header{}, nil, err
	}
	var (
		h          frame.Header
		pt         []byte
		prev, next ratchet.Chain
	)
	err = sess.recv.View(func(key []byte) error {
		prev = ratchet.Chain{Key: key, State: sess.info.Recv}
		var err error
		h, pt, next, err = ratchet.Open(prev, raw, s.now())
		return err
	})
	if err != nil {
		return h, nil, err
	}
	if err := s.advanceRecv(sess, prev, next); err != nil {
		return h, nil, err
	}
	return h, pt, nil
}

// Resync moves the receive chain forward to the position the peer announced.
func (s *KeyStore) Resync(counter uint64, epoch uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.current()
	if err != nil {
		return err
	}
	var prev, next ratchet.Chain
	err = sess.recv.View(func(key []byte) error {
		prev = ratchet.Chain{Key: key, State: sess.info.Recv}
		var err error
		next, err = ratchet.Resync(prev, counter, epoch, s.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
	}
	if next.State == prev.State {
		return nil
	}
	return s.advanceRecv(sess, prev, next)
}

func (s *KeyStore) advanceRecv(sess *session, prev, next ratchet.Chain) error {
	info := sess.info
	info.Recv = next.State
	if !ratchet.Rotated(prev, next) {
		if err := s.persistSession(sess, info, nil, nil); err != nil {
			return err
		}
		sess.info = info
		return nil
	}
	return s.commitRotation(sess, info, &sess.recv, next.Key, false)
}

// commitRotation persists info with the rotated key, then swaps the key in.
func (s *KeyStore) commitRotation(sess *session, info domain.SessionInfo, slot **secret.Buffer, key []byte, send bool) error {
	var err error
	if send {
		err = s.persistSession(sess, info, key, nil)
	} else {
		err = s.persistSession(sess, info, nil, key)
	}
	if err != nil {
		crypto.Wipe(key)
		return err
	}
	buf, err := secret.NewFromBytes(key)
	if err != nil {
		return err
	}
	_ = (*slot).Close()
	*slot = buf
	sess.info = info
	return nil
}

// persistSession writes info with the session keys, substituting send or
// recv when non-nil.
func (s *KeyStore) persistSession(sess *session, info domain.SessionInfo, send, recv []byte) error {
	rec := sessionRecord{Info: info}
	return sess.root.View(func(root []byte) error {
		rec.Root = root
		return viewOr(sess.send, send, func(k []byte) error {
			rec.Send = k
			return viewOr(sess.recv, recv, func(k []byte) error {
				rec.Recv = k
				return s.writeRecord(sessionFile, kindSession, rec)
			})
		})
	})
}

func viewOr(b *secret.Buffer, override []byte, fn func([]byte) error) error {
	if override != nil {
		return fn(override)
	}
	return b.View(fn)
}

func (s *KeyStore) current() (*session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, domain.ErrNotLinked
	}
	return s.session, nil
}
