package crypto_test

import (
	"bytes"
	"strings"
	"testing"

	"tether/internal/crypto"
	"tether/internal/secret"
)

func TestDH_Agreement(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bPriv, bPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ab, err := crypto.DH(aPriv.Slice(), bPub)
	if err != nil {
		t.Fatalf("DH a->b: %v", err)
	}
	ba, err := crypto.DH(bPriv.Slice(), aPub)
	if err != nil {
		t.Fatalf("DH b->a: %v", err)
	}
	if ab != ba {
		t.Fatal("shared secrets differ")
	}
}

func TestEd25519_SignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	msg := []byte("link me")
	sig := crypto.SignEd25519(priv.Slice(), msg)
	if !crypto.VerifyEd25519(pub, msg, sig) {
		t.Fatal("valid signature rejected")
	}
	if crypto.VerifyEd25519(pub, []byte("link you"), sig) {
		t.Fatal("signature over other message accepted")
	}
	if crypto.VerifyEd25519(pub, msg, sig[:10]) {
		t.Fatal("short signature accepted")
	}
}

func TestEd25519_SignFromLockedBuffer(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	buf, err := secret.NewFromBytes(priv.Slice())
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	defer buf.Close()

	msg := []byte("hello transcript")
	var sig []byte
	err = buf.View(func(key []byte) error {
		sig = crypto.SignEd25519(key, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if !crypto.VerifyEd25519(pub, msg, sig) {
		t.Fatal("signature made from locked key rejected")
	}
}

func TestHKDF_Deterministic(t *testing.T) {
	a, err := crypto.HKDF([]byte("ikm"), []byte("salt"), []byte("info"), 96)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	b, _ := crypto.HKDF([]byte("ikm"), []byte("salt"), []byte("info"), 96)
	c, _ := crypto.HKDF([]byte("ikm"), []byte("salt"), []byte("other"), 96)
	if !bytes.Equal(a, b) || len(a) != 96 {
		t.Fatal("HKDF not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Fatal("info not bound")
	}
}

func TestFingerprintAndDeviceID(t *testing.T) {
	_, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	fp := crypto.Fingerprint(pub.Slice())
	if len(strings.ReplaceAll(fp.String(), " ", "")) != 20 {
		t.Fatalf("fingerprint %q has wrong length", fp)
	}
	id := crypto.DeviceIDFor(pub)
	if !strings.HasPrefix(id.String(), "dev-") || id != crypto.DeviceIDFor(pub) {
		t.Fatalf("unexpected device id %q", id)
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	crypto.Wipe(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Fatalf("not wiped: %v", b)
	}
}
