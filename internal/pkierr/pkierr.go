// Package pkierr defines the failure taxonomy shared by every command.
//
// Each sentinel names one user-visible failure kind. Commands wrap these
// with context via fmt.Errorf("...: %w", err); callers match with errors.Is.
// Exit status is uniformly nonzero on any of them.
package pkierr

import "errors"

var (
	// ErrKeyNotFound means neither the suffixed nor the literal key file exists.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidKey means the key file exists but is structurally malformed.
	ErrInvalidKey = errors.New("invalid key")
	// ErrAlreadyExists means generate would overwrite existing key material.
	ErrAlreadyExists = errors.New("key material already exists")
	// ErrWeakKey means the requested bit length is below the floor.
	ErrWeakKey = errors.New("key length below minimum")

	ErrNotSelfSigned     = errors.New("certificate is not self-signed")
	ErrNotSignedBySigner = errors.New("certificate is not signed by signer")
	ErrInvalidSignature  = errors.New("certificate signature does not validate")

	ErrAlreadyLocked = errors.New("secret key is already locked")
	ErrNotLocked     = errors.New("secret key is not locked")

	// ErrVerifyFailed covers forged signatures and corrupted input alike;
	// the two are deliberately indistinguishable.
	ErrVerifyFailed  = errors.New("verification failed")
	ErrEncryptFailed = errors.New("encryption failed")
	// ErrDecryptFailed covers wrong keys and corrupted ciphertext alike.
	ErrDecryptFailed = errors.New("decryption failed")

	ErrIssuanceFailed = errors.New("certificate issuance failed")

	// ErrEnvironment means HSM configuration is missing or incomplete.
	ErrEnvironment = errors.New("missing hsm configuration")
	// ErrPromptDenied means the secret provider refused to supply a passphrase.
	ErrPromptDenied = errors.New("passphrase prompt denied")
)
