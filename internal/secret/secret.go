// Package secret abstracts passphrase entry so the core never talks to a
// terminal directly. Lock/unlock, locked-key access, and HSM login all take a
// Provider; tests substitute a Static one.
package secret

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/glitchub/cryptool/internal/pkierr"
)

// Provider supplies passphrases on demand. When confirm is true the
// passphrase is being set rather than recalled, and implementations should
// require it twice.
type Provider interface {
	Passphrase(prompt string, confirm bool) ([]byte, error)
}

// Terminal prompts interactively on the controlling terminal, blocking
// without timeout. Echo is disabled for the duration of entry.
type Terminal struct{}

func (Terminal) Passphrase(prompt string, confirm bool) ([]byte, error) {
	pass, err := readPassword(prompt)
	if err != nil {
		return nil, err
	}
	if len(pass) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", pkierr.ErrPromptDenied)
	}
	if confirm {
		again, err := readPassword("Again: ")
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pass, again) {
			return nil, fmt.Errorf("%w: passphrases do not match", pkierr.ErrPromptDenied)
		}
	}
	return pass, nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrPromptDenied, err)
	}
	return pass, nil
}

// Static returns a fixed passphrase, or denies when none is set. Used in
// tests and for passphrase-from-environment invocations.
type Static struct {
	Value []byte
}

func (s Static) Passphrase(string, bool) ([]byte, error) {
	if len(s.Value) == 0 {
		return nil, pkierr.ErrPromptDenied
	}
	return append([]byte(nil), s.Value...), nil
}
