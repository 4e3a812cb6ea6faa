package commands

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"tether/internal/store"
)

const passphraseEnv = "TETHER_PASSPHRASE"

// resolvePassphrase takes the passphrase from the flag, the environment or
// a terminal prompt. An existing store without a passphrase needs none.
func resolvePassphrase(keyDir string, creating bool) (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	if creating && noPassphrase {
		return "", nil
	}
	protected, err := store.Protected(keyDir)
	if err != nil {
		return "", err
	}
	if !protected && !creating {
		return "", nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required (-p or $%s)", passphraseEnv)
	}
	p, err := prompt(fd, "Passphrase: ")
	if err != nil {
		return "", err
	}
	if creating {
		again, err := prompt(fd, "Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if again != p {
			return "", errors.New("passphrases do not match")
		}
	}
	return p, nil
}

func prompt(fd int, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
