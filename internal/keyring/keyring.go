// Package keyring locates and validates key material on disk.
//
// A key pair is two PEM files sharing a base name: <name>.p holds an X.509
// certificate and <name>.s holds the RSA private key. Either may carry a
// trailing "Info:" annotation line outside the PEM block; PEM decoding
// ignores trailing text so the annotation never interferes with parsing.
//
// A locked secret key is stored as an ENCRYPTED PRIVATE KEY block sealed
// under a passphrase (see cryptoutil). The block type doubles as the
// structural lock marker, and the Modulus header keeps the public half
// readable without the passphrase.
package keyring

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/glitchub/cryptool/internal/cryptoutil"
	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/secret"
)

const (
	// PublicSuffix and SecretSuffix are the conventional file suffixes.
	PublicSuffix = ".p"
	SecretSuffix = ".s"

	certBlockType   = "CERTIFICATE"
	secretBlockType = "RSA PRIVATE KEY"
	lockedBlockType = "ENCRYPTED PRIVATE KEY"

	infoPrefix    = "Info: "
	modulusHeader = "Modulus"
)

// PublicKey is a resolved certificate file.
type PublicKey struct {
	Path string
	Cert *x509.Certificate
	Info string
}

// SecretKey is a resolved private key file. The DER bytes are not parsed
// until Open is called, so resolving a locked key never needs a passphrase.
type SecretKey struct {
	Path   string
	Locked bool
	Info   string

	block *pem.Block
}

// locate tries name+suffix first, then the literal name.
func locate(name, suffix string) (string, []byte, error) {
	for _, path := range []string{name + suffix, name} {
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return "", nil, fmt.Errorf("%w: %s", pkierr.ErrKeyNotFound, name)
}

// ResolvePublic locates a certificate by name and structurally validates it.
func ResolvePublic(name string) (*PublicKey, error) {
	path, data, err := locate(name, PublicSuffix)
	if err != nil {
		return nil, err
	}
	block, rest := pem.Decode(data)
	if block == nil || block.Type != certBlockType {
		return nil, fmt.Errorf("%w: %s is not a certificate", pkierr.ErrInvalidKey, path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkierr.ErrInvalidKey, path, err)
	}
	if cert.PublicKeyAlgorithm != x509.RSA {
		return nil, fmt.Errorf("%w: %s: not an RSA certificate", pkierr.ErrInvalidKey, path)
	}
	return &PublicKey{Path: path, Cert: cert, Info: parseInfo(rest)}, nil
}

// ResolveSecret locates a private key by name. Validation is a structural
// marker check only; a locked key must never trigger a passphrase prompt
// just by being resolved.
func ResolveSecret(name string) (*SecretKey, error) {
	path, data, err := locate(name, SecretSuffix)
	if err != nil {
		return nil, err
	}
	block, rest := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not a secret key", pkierr.ErrInvalidKey, path)
	}
	switch block.Type {
	case secretBlockType:
		return &SecretKey{Path: path, Locked: false, Info: parseInfo(rest), block: block}, nil
	case lockedBlockType:
		return &SecretKey{Path: path, Locked: true, Info: parseInfo(rest), block: block}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a secret key", pkierr.ErrInvalidKey, path)
	}
}

// Open parses the private key, sealing open a locked key with a passphrase
// from the provider. A wrong passphrase is indistinguishable from corrupt
// key material.
func (k *SecretKey) Open(secrets secret.Provider) (*rsa.PrivateKey, error) {
	der := k.block.Bytes
	if k.Locked {
		if secrets == nil {
			return nil, fmt.Errorf("%w: %s is locked", pkierr.ErrPromptDenied, k.Path)
		}
		pass, err := secrets.Passphrase(fmt.Sprintf("Passphrase for %s: ", k.Path), false)
		if err != nil {
			return nil, err
		}
		defer cryptoutil.Zeroize(pass)
		der, err = cryptoutil.Open(pass, der)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", pkierr.ErrDecryptFailed, k.Path)
		}
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkierr.ErrInvalidKey, k.Path, err)
	}
	return key, nil
}

// Modulus reports the public modulus without requiring a passphrase: a
// locked key carries it in the Modulus PEM header.
func (k *SecretKey) Modulus() (*big.Int, error) {
	if k.Locked {
		hex, ok := k.block.Headers[modulusHeader]
		if !ok {
			return nil, fmt.Errorf("%w: %s: locked key has no modulus header", pkierr.ErrInvalidKey, k.Path)
		}
		n, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return nil, fmt.Errorf("%w: %s: malformed modulus header", pkierr.ErrInvalidKey, k.Path)
		}
		return n, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(k.block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkierr.ErrInvalidKey, k.Path, err)
	}
	return key.N, nil
}

// Bits reports the modulus size in bits without requiring a passphrase.
func (k *SecretKey) Bits() (int, error) {
	n, err := k.Modulus()
	if err != nil {
		return 0, err
	}
	return n.BitLen(), nil
}

// parseInfo scans the trailing text after a PEM block for the annotation.
func parseInfo(rest []byte) string {
	for _, line := range strings.Split(string(rest), "\n") {
		if strings.HasPrefix(line, infoPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, infoPrefix))
		}
	}
	return ""
}

// FormatInfo builds the annotation written at issuance: the subject CN,
// optionally followed by free text. dump -c on a secret key reads the CN
// back from here, since a locked key cannot be parsed for it.
func FormatInfo(cn, text string) string {
	s := fmt.Sprintf("CN %q", cn)
	if text != "" {
		s += " - " + text
	}
	return s
}

// CommonNameFromInfo extracts the CN recorded by FormatInfo.
func CommonNameFromInfo(info string) (string, bool) {
	rest, ok := strings.CutPrefix(info, `CN "`)
	if !ok {
		return "", false
	}
	cn, _, ok := strings.Cut(rest, `"`)
	return cn, ok
}

func appendInfo(data []byte, info string) []byte {
	if info == "" {
		return data
	}
	return append(data, []byte(infoPrefix+info+"\n")...)
}

// EncodeCertificate renders certificate DER as a .p file body.
func EncodeCertificate(der []byte, info string) []byte {
	data := pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: der})
	return appendInfo(data, info)
}

// EncodeSecret renders a private key as a cleartext .s file body.
func EncodeSecret(key *rsa.PrivateKey, info string) []byte {
	data := pem.EncodeToMemory(&pem.Block{Type: secretBlockType, Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return appendInfo(data, info)
}

// EncodeLockedSecret renders a private key as a passphrase-locked .s file
// body. The modulus rides along in a PEM header so introspection works
// without the passphrase.
func EncodeLockedSecret(key *rsa.PrivateKey, passphrase []byte, info string) ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(key)
	defer cryptoutil.Zeroize(der)
	sealed, err := cryptoutil.Seal(passphrase, der)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{
		Type: lockedBlockType,
		Headers: map[string]string{
			"Proc-Type":   "4,ENCRYPTED",
			modulusHeader: fmt.Sprintf("%X", key.N),
		},
		Bytes: sealed,
	}
	return appendInfo(pem.EncodeToMemory(block), info), nil
}

// WriteExclusive creates path with the given contents, refusing to touch an
// existing file. Existing key material is never overwritten.
func WriteExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", pkierr.ErrAlreadyExists, path)
		}
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Lock rewrites an unlocked secret key in place, sealed under a new
// passphrase. The key identity and Info annotation are preserved.
func Lock(name string, secrets secret.Provider) error {
	k, err := ResolveSecret(name)
	if err != nil {
		return err
	}
	if k.Locked {
		return fmt.Errorf("%w: %s", pkierr.ErrAlreadyLocked, k.Path)
	}
	key, err := k.Open(nil)
	if err != nil {
		return err
	}
	pass, err := secrets.Passphrase(fmt.Sprintf("New passphrase for %s: ", k.Path), true)
	if err != nil {
		return err
	}
	defer cryptoutil.Zeroize(pass)
	data, err := EncodeLockedSecret(key, pass, k.Info)
	if err != nil {
		return err
	}
	return os.WriteFile(k.Path, data, 0600)
}

// Unlock rewrites a locked secret key in place in cleartext form, preserving
// the Info annotation.
func Unlock(name string, secrets secret.Provider) error {
	k, err := ResolveSecret(name)
	if err != nil {
		return err
	}
	if !k.Locked {
		return fmt.Errorf("%w: %s", pkierr.ErrNotLocked, k.Path)
	}
	key, err := k.Open(secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(k.Path, EncodeSecret(key, k.Info), 0600)
}
