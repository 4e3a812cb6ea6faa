package identity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tether/internal/services/identity"
	"tether/internal/store"
)

func TestCheckPassphrase(t *testing.T) {
	cases := map[string]bool{
		"short1!A":          false,
		"alllowercase12!":   false,
		"ALLUPPERCASE12!":   false,
		"NoDigitsHere!!":    false,
		"NoSymbols1234abc":  false,
		"Correct-Horse-9":   true,
		"Ünïcödé-Pass-2024": true,
	}
	for pass, ok := range cases {
		err := identity.CheckPassphrase(pass)
		if ok && err != nil {
			t.Fatalf("%q rejected: %v", pass, err)
		}
		if !ok && !errors.Is(err, identity.ErrWeakPassphrase) {
			t.Fatalf("%q accepted", pass)
		}
	}

	err := identity.CheckPassphrase("lowercase-only")
	if err == nil || !strings.Contains(err.Error(), "a digit") || strings.Contains(err.Error(), "a symbol") {
		t.Fatalf("missing classes not named: %v", err)
	}
}

func TestIdentity_StableAndReregister(t *testing.T) {
	ks, err := store.Open(t.TempDir(), "", store.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer ks.Close()
	svc := identity.New(ks)

	id, fp, err := svc.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	again, err := svc.Fingerprint()
	if err != nil || again != fp {
		t.Fatalf("fingerprint changed: %q vs %q (%v)", again, fp, err)
	}

	fresh, freshFP, err := svc.Reregister()
	if err != nil {
		t.Fatalf("reregister: %v", err)
	}
	if fresh.DeviceID == id.DeviceID || freshFP == fp {
		t.Fatal("reregister kept the old identity")
	}
}
