// Package trust implements the two-level trust check between a certificate
// and its signer. There is no recursive anchor discovery: a certificate is
// either self-signed or signed directly by the supplied signer, and nothing
// deeper is modeled.
package trust

import (
	"crypto/x509"
	"fmt"

	"github.com/glitchub/cryptool/internal/pkierr"
)

// SubjectOf extracts the subject CN.
func SubjectOf(cert *x509.Certificate) (string, error) {
	if cert.Subject.CommonName == "" {
		return "", fmt.Errorf("%w: certificate has no subject CN", pkierr.ErrInvalidKey)
	}
	return cert.Subject.CommonName, nil
}

// IssuerOf extracts the issuer CN.
func IssuerOf(cert *x509.Certificate) (string, error) {
	if cert.Issuer.CommonName == "" {
		return "", fmt.Errorf("%w: certificate has no issuer CN", pkierr.ErrInvalidKey)
	}
	return cert.Issuer.CommonName, nil
}

// Verify checks that cert is anchored by signer: either self-signed (the
// subjects match and the certificate issued itself) or signed-by (the issuer
// names the signer's subject). In both shapes the signature must validate
// against the signer's public key as the sole trust anchor.
func Verify(cert, signer *x509.Certificate) error {
	subject, err := SubjectOf(cert)
	if err != nil {
		return err
	}
	issuer, err := IssuerOf(cert)
	if err != nil {
		return err
	}
	anchor, err := SubjectOf(signer)
	if err != nil {
		return err
	}

	if subject == anchor {
		if issuer != subject {
			return fmt.Errorf("%w: %q was issued by %q", pkierr.ErrNotSelfSigned, subject, issuer)
		}
	} else if issuer != anchor {
		return fmt.Errorf("%w: %q was issued by %q, not %q", pkierr.ErrNotSignedBySigner, subject, issuer, anchor)
	}

	if err := signer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return fmt.Errorf("%w: %v", pkierr.ErrInvalidSignature, err)
	}
	return nil
}
