package store_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tether/internal/crypto"
	"tether/internal/domain"
	"tether/internal/protocol/frame"
	"tether/internal/protocol/linking"
	"tether/internal/protocol/ratchet"
	"tether/internal/secret"
	"tether/internal/store"
)

const pass = "Correct-Horse-9"

func openStore(t *testing.T, dir string) *store.KeyStore {
	t.Helper()
	ks, err := store.Open(dir, pass, store.Options{WorkFactor: 10, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestIdentity_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)

	id, err := ks.LoadOrCreateIdentity()
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	sig, err := ks.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !crypto.VerifyEd25519(id.SigningKey, []byte("hello"), sig) {
		t.Fatal("signature does not verify")
	}
	_ = ks.Close()

	again := openStore(t, dir)
	got, err := again.LoadOrCreateIdentity()
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if got.DeviceID != id.DeviceID || got.SigningKey != id.SigningKey {
		t.Fatalf("identity changed across reopen")
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	_ = ks.Close()

	_, err := store.Open(dir, "Wrong-Horse-99", store.Options{Logger: zerolog.Nop()})
	if !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestOpen_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	_ = ks.Close()

	path := filepath.Join(dir, "identity.enc")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var blob map[string]any
	if err := json.Unmarshal(b, &blob); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ct, _ := base64.StdEncoding.DecodeString(blob["cipher"].(string))
	ct[0] ^= 0x01
	blob["cipher"] = base64.StdEncoding.EncodeToString(ct)
	if b, err = json.Marshal(blob); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = store.Open(dir, pass, store.Options{Logger: zerolog.Nop()})
	if !errors.Is(err, domain.ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt, got %v", err)
	}
}

// linkSession installs a session and returns the primary's view of it.
func linkSession(t *testing.T, ks *store.KeyStore) (send, recv ratchet.Chain) {
	t.Helper()
	lk, err := ks.NewLinkKey()
	if err != nil {
		t.Fatalf("link key: %v", err)
	}
	primPriv, primPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("primary key: %v", err)
	}
	var nonce [16]byte
	nonce[0] = 7

	material, err := lk.Agree(primPub, nonce)
	if err != nil {
		t.Fatalf("agree: %v", err)
	}
	defer material.Close()

	info := domain.SessionInfo{SessionID: "s-1", AccountID: "acct", DeviceID: "dev-1"}
	if _, err := ks.NewDeviceSession(info, material); err != nil {
		t.Fatalf("new session: %v", err)
	}

	shared, err := crypto.DH(primPriv[:], lk.Public())
	if err != nil {
		t.Fatalf("dh: %v", err)
	}
	m, err := linking.DeriveMaterial(shared[:], nonce)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	_, ps, pr := linking.Split(m, linking.RolePrimary)
	return ratchet.Chain{Key: ps}, ratchet.Chain{Key: pr}
}

func TestOpen_CorruptSessionAllowsRelink(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)
	id, err := ks.LoadOrCreateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	linkSession(t, ks)
	_ = ks.Close()

	if err := os.WriteFile(filepath.Join(dir, "session.enc"), []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 0; i < 2; i++ {
		ks = openStore(t, dir)
		if _, ok, err := ks.CurrentSession(); err != nil || ok {
			t.Fatalf("open %d: linked=%v err=%v", i, ok, err)
		}
		if again, ok := ks.Identity(); !ok || again.DeviceID != id.DeviceID {
			t.Fatalf("open %d: identity lost", i)
		}
		_ = ks.Close()
		if _, err := os.Stat(filepath.Join(dir, "session.enc")); !os.IsNotExist(err) {
			t.Fatalf("open %d: session record kept: %v", i, err)
		}
	}

	ks = openStore(t, dir)
	if ks.DiscardedSession() != nil {
		t.Fatal("discard reported again after the record was removed")
	}
	linkSession(t, ks)
	if _, ok, err := ks.CurrentSession(); err != nil || !ok {
		t.Fatalf("relink: linked=%v err=%v", ok, err)
	}
}

func TestOpen_CorruptSessionIsReported(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("identity: %v", err)
	}
	linkSession(t, ks)
	_ = ks.Close()
	if err := os.WriteFile(filepath.Join(dir, "session.enc"), []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ks = openStore(t, dir)
	if err := ks.DiscardedSession(); !errors.Is(err, domain.ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt, got %v", err)
	}
	linkSession(t, ks)
	if err := ks.DiscardedSession(); err != nil {
		t.Fatalf("discard not cleared by relink: %v", err)
	}
}

func TestSession_SealOpenAndReload(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir)
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("identity: %v", err)
	}
	primSend, primRecv := linkSession(t, ks)
	now := time.Now()

	policy := ratchet.Policy{MaxFrames: 2}
	for i := 0; i < 3; i++ {
		raw, err := ks.SealFrame(frame.TypeData, []byte("up"), policy)
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		var pt []byte
		_, pt, primRecv, err = ratchet.Open(primRecv, raw, now)
		if err != nil {
			t.Fatalf("primary open %d: %v", i, err)
		}
		if string(pt) != "up" {
			t.Fatalf("got %q", pt)
		}
	}

	down, next, err := ratchet.Seal(primSend, frame.TypeData, []byte("down"), ratchet.Policy{}, now)
	if err != nil {
		t.Fatalf("primary seal: %v", err)
	}
	primSend = next
	if _, pt, err := ks.OpenFrame(down); err != nil || string(pt) != "down" {
		t.Fatalf("open: %q %v", pt, err)
	}
	if _, _, err := ks.OpenFrame(down); !errors.Is(err, domain.ErrReplayOrOutOfOrder) {
		t.Fatalf("expected replay error, got %v", err)
	}
	_ = ks.Close()

	again := openStore(t, dir)
	info, ok, err := again.CurrentSession()
	if err != nil || !ok {
		t.Fatalf("current session: ok=%v err=%v", ok, err)
	}
	if info.Send.Counter != 3 || info.Send.Epoch != 1 || info.Recv.Counter != 1 {
		t.Fatalf("positions not persisted: %+v", info)
	}

	raw, err := again.SealFrame(frame.TypeData, []byte("after"), policy)
	if err != nil {
		t.Fatalf("seal after reload: %v", err)
	}
	if _, pt, _, err := ratchet.Open(primRecv, raw, now); err != nil || string(pt) != "after" {
		t.Fatalf("primary open after reload: %q %v", pt, err)
	}
	_ = primSend
}

func TestSession_ResyncNeverRewinds(t *testing.T) {
	ks := openStore(t, t.TempDir())
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("identity: %v", err)
	}
	linkSession(t, ks)

	if err := ks.Resync(10, 2); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if err := ks.Resync(4, 1); err != nil {
		t.Fatalf("resync back: %v", err)
	}
	info, _, _ := ks.CurrentSession()
	if info.Recv.Counter != 10 || info.Recv.Epoch != 2 {
		t.Fatalf("recv position %+v", info.Recv)
	}
}

func TestSession_InvalidateAndRelink(t *testing.T) {
	ks := openStore(t, t.TempDir())
	if _, err := ks.LoadOrCreateIdentity(); err != nil {
		t.Fatalf("identity: %v", err)
	}
	linkSession(t, ks)

	m, err := secret.New(linking.MaterialSize)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	defer m.Close()
	if _, err := ks.NewDeviceSession(domain.SessionInfo{SessionID: "s-2"}, m); !errors.Is(err, domain.ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}

	if err := ks.InvalidateSession(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := ks.SealFrame(frame.TypeData, []byte("x"), ratchet.Policy{}); !errors.Is(err, domain.ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}
	if _, ok, _ := ks.CurrentSession(); ok {
		t.Fatal("session still present")
	}
}

func TestResetIdentity_DropsSession(t *testing.T) {
	ks := openStore(t, t.TempDir())
	old, err := ks.LoadOrCreateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	linkSession(t, ks)

	fresh, err := ks.ResetIdentity()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fresh.DeviceID == old.DeviceID {
		t.Fatal("device id unchanged")
	}
	if _, ok, _ := ks.CurrentSession(); ok {
		t.Fatal("session survived identity reset")
	}
}

func TestOpen_WithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	ks, err := store.Open(dir, "", store.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := ks.LoadOrCreateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	_ = ks.Close()

	if _, err := os.Stat(filepath.Join(dir, "store.key")); err != nil {
		t.Fatalf("plain store key missing: %v", err)
	}
	if _, err := store.Open(dir, pass, store.Options{Logger: zerolog.Nop()}); !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}

	again, err := store.Open(dir, "", store.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	got, ok := again.Identity()
	if !ok || got.DeviceID != id.DeviceID {
		t.Fatalf("identity not reloaded")
	}
}

func TestProtected(t *testing.T) {
	dir := t.TempDir()
	if ok, err := store.Protected(dir); err != nil || ok {
		t.Fatalf("empty dir: Protected = %v, %v", ok, err)
	}
	ks := openStore(t, dir)
	if err := ks.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, err := store.Protected(dir); err != nil || !ok {
		t.Fatalf("after Open: Protected = %v, %v", ok, err)
	}
}
