// Package issuer generates key pairs and issues certificates, acting as a
// lightweight single-operator certificate authority.
package issuer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/glitchub/cryptool/internal/cryptoutil"
	"github.com/glitchub/cryptool/internal/keyring"
	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/secret"
	"github.com/glitchub/cryptool/internal/trust"
	"github.com/glitchub/cryptool/internal/workspace"
)

// MinBits is the smallest modulus size the issuer will generate.
const MinBits = 512

// Default validity window, chosen to outlast faulty embedded-device clocks.
var (
	defaultNotBefore = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	defaultNotAfter  = time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Request describes one issuance.
type Request struct {
	// Name is the key base name; files Name.p and Name.s are created.
	Name string
	// Signer is the base name of the signing pair; empty means self-signed.
	Signer string
	// Bits is the RSA modulus size for a freshly generated key.
	Bits int
	// Info is free text recorded in the Info annotation.
	Info string
	// Days bounds the validity window from now; zero selects the default
	// fixed window.
	Days int
	// CloneFrom names an existing secret key to re-wrap instead of
	// generating fresh entropy.
	CloneFrom string
	// CommonName overrides the derived "<name> <serial>" subject CN.
	CommonName string
	// Lock passphrase-protects the new secret key immediately.
	Lock bool
}

// Issued reports the outcome of an issuance.
type Issued struct {
	Cert       *x509.Certificate
	Serial     int64
	PublicPath string
	SecretPath string
}

type Issuer struct {
	ws      *workspace.Workspace
	secrets secret.Provider
	log     zerolog.Logger
}

func New(ws *workspace.Workspace, secrets secret.Provider, log zerolog.Logger) *Issuer {
	return &Issuer{ws: ws, secrets: secrets, log: log}
}

// Issue runs the issuance state machine: refuse overwrite, validate the
// signer anchor, obtain the secret key, derive the subject, build a signing
// request, and issue either a self-signed or a signer-delegated certificate.
func (i *Issuer) Issue(req Request) (*Issued, error) {
	publicPath := req.Name + keyring.PublicSuffix
	secretPath := req.Name + keyring.SecretSuffix
	for _, path := range []string{publicPath, secretPath} {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", pkierr.ErrAlreadyExists, path)
		}
	}

	// A signer must anchor its own trust before it may anchor anyone else's.
	var signerPub *keyring.PublicKey
	var signerKey *rsa.PrivateKey
	if req.Signer != "" {
		var err error
		signerPub, err = keyring.ResolvePublic(req.Signer)
		if err != nil {
			return nil, err
		}
		if err := trust.Verify(signerPub.Cert, signerPub.Cert); err != nil {
			return nil, err
		}
		signerSec, err := keyring.ResolveSecret(req.Signer)
		if err != nil {
			return nil, err
		}
		signerKey, err = signerSec.Open(i.secrets)
		if err != nil {
			return nil, err
		}
	}

	key, err := i.obtainKey(req)
	if err != nil {
		return nil, err
	}

	ca, err := i.ws.CA()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}
	serial, err := ca.NextSerial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}

	cn := req.CommonName
	if cn == "" {
		cn = fmt.Sprintf("%s %d", filepath.Base(req.Name), serial)
	}

	csr, err := buildRequest(cn, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}

	notBefore, notAfter := defaultNotBefore, defaultNotAfter
	if req.Days > 0 {
		notBefore = time.Now()
		notAfter = notBefore.AddDate(0, 0, req.Days)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               csr.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	parent := template
	issuerKey := key
	if signerPub != nil {
		parent = signerPub.Cert
		issuerKey = signerKey
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, parent, csr.PublicKey, issuerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}

	info := keyring.FormatInfo(cn, req.Info)

	secretBody := keyring.EncodeSecret(key, info)
	if req.Lock {
		pass, err := i.secrets.Passphrase(fmt.Sprintf("New passphrase for %s: ", secretPath), true)
		if err != nil {
			return nil, err
		}
		defer cryptoutil.Zeroize(pass)
		secretBody, err = keyring.EncodeLockedSecret(key, pass, info)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
		}
	}
	if err := keyring.WriteExclusive(secretPath, secretBody, 0600); err != nil {
		return nil, err
	}
	publicBody := keyring.EncodeCertificate(certDER, info)
	if err := keyring.WriteExclusive(publicPath, publicBody, 0644); err != nil {
		// The pair is created atomically or not at all.
		os.Remove(secretPath)
		return nil, err
	}

	if err := ca.Record(serial, cert.Subject.CommonName, cert.Issuer.CommonName, notBefore, notAfter, publicBody); err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}
	i.log.Debug().
		Int64("serial", serial).
		Str("subject", cert.Subject.CommonName).
		Str("issuer", cert.Issuer.CommonName).
		Msg("certificate issued")

	return &Issued{Cert: cert, Serial: serial, PublicPath: publicPath, SecretPath: secretPath}, nil
}

// obtainKey clones an existing secret key or generates a fresh one.
func (i *Issuer) obtainKey(req Request) (*rsa.PrivateKey, error) {
	if req.CloneFrom != "" {
		src, err := keyring.ResolveSecret(req.CloneFrom)
		if err != nil {
			return nil, err
		}
		return src.Open(i.secrets)
	}
	if req.Bits < MinBits {
		return nil, fmt.Errorf("%w: %d bits (minimum %d)", pkierr.ErrWeakKey, req.Bits, MinBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, req.Bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrIssuanceFailed, err)
	}
	return key, nil
}

// buildRequest creates and validates the signing request for the subject CN.
func buildRequest(cn string, key *rsa.PrivateKey) (*x509.CertificateRequest, error) {
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: cn},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}, key)
	if err != nil {
		return nil, err
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, err
	}
	return csr, nil
}
