// Package envelope implements the self-describing signed and encrypted
// containers used for payload crypto.
//
// Envelopes are PEM blocks with a JSON body: a signed envelope embeds the
// signer's certificate, the payload, and an RSA PKCS#1 v1.5 signature over
// SHA-256 of the payload; an encrypted envelope names the recipient and
// carries an AES-256-GCM content cipher under a per-message RSA-OAEP key
// wrap. A detached signature is a bare signature blob in its own block.
//
// Verification and decryption failures are collapsed to single error kinds:
// a forged signature, a wrong key, and corrupted input are deliberately
// indistinguishable.
package envelope

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/glitchub/cryptool/internal/pkierr"
)

const (
	signedBlockType    = "SIGNED ENVELOPE"
	encryptedBlockType = "ENCRYPTED ENVELOPE"
	detachedBlockType  = "DETACHED SIGNATURE"

	contentKeySize = 32
	gcmNonceSize   = 12
)

type signedBody struct {
	Cert      []byte `json:"cert"`
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

type encryptedBody struct {
	Recipient  string `json:"recipient"`
	WrappedKey []byte `json:"wrapped_key"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Sign produces a self-contained signed envelope embedding the sender's
// certificate. No further chain is embedded; verification resolves trust
// separately.
func Sign(payload []byte, cert *x509.Certificate, signer crypto.Signer) ([]byte, error) {
	h := sha256.Sum256(payload)
	sig, err := signer.Sign(rand.Reader, h[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	body, err := json.Marshal(signedBody{Cert: cert.Raw, Payload: payload, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: signedBlockType, Bytes: body}), nil
}

// SignDetached produces a bare signature blob over a digest of the payload,
// kept separate from the payload itself.
func SignDetached(payload []byte, signer crypto.Signer) ([]byte, error) {
	h := sha256.Sum256(payload)
	sig, err := signer.Sign(rand.Reader, h[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: detachedBlockType, Bytes: sig}), nil
}

// Verify checks a signed envelope's internal signature against the sender's
// certificate and returns the payload. The trust relationship between sender
// and signer is the caller's to check before releasing the payload further.
func Verify(env []byte, sender *x509.Certificate) ([]byte, error) {
	block, _ := pem.Decode(env)
	if block == nil || block.Type != signedBlockType {
		return nil, pkierr.ErrVerifyFailed
	}
	var body signedBody
	if err := json.Unmarshal(block.Bytes, &body); err != nil {
		return nil, pkierr.ErrVerifyFailed
	}
	if err := checkSignature(sender, body.Payload, body.Signature); err != nil {
		return nil, err
	}
	return body.Payload, nil
}

// VerifyDetached checks a detached signature blob against the original
// payload and the sender's certificate.
func VerifyDetached(sig, payload []byte, sender *x509.Certificate) error {
	block, _ := pem.Decode(sig)
	if block == nil || block.Type != detachedBlockType {
		return pkierr.ErrVerifyFailed
	}
	return checkSignature(sender, payload, block.Bytes)
}

func checkSignature(sender *x509.Certificate, payload, sig []byte) error {
	pub, ok := sender.PublicKey.(*rsa.PublicKey)
	if !ok {
		return pkierr.ErrVerifyFailed
	}
	h := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return pkierr.ErrVerifyFailed
	}
	return nil
}

// Encrypt produces an encrypted envelope addressed to the recipient: a fresh
// AES-256-GCM content key wrapped to the recipient's public key with
// RSA-OAEP.
func Encrypt(payload []byte, recipient *x509.Certificate) ([]byte, error) {
	pub, ok := recipient.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, pkierr.ErrEncryptFailed
	}

	cek := make([]byte, contentKeySize)
	if _, err := io.ReadFull(rand.Reader, cek); err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}
	blockCipher, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, cek, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}

	body, err := json.Marshal(encryptedBody{
		Recipient:  recipient.Subject.CommonName,
		WrappedKey: wrapped,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, payload, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEncryptFailed, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: encryptedBlockType, Bytes: body}), nil
}

// Decrypt opens an encrypted envelope with the recipient's secret key, which
// may be a local file key or an HSM-backed decrypter.
func Decrypt(env []byte, decrypter crypto.Decrypter) ([]byte, error) {
	block, _ := pem.Decode(env)
	if block == nil || block.Type != encryptedBlockType {
		return nil, pkierr.ErrDecryptFailed
	}
	var body encryptedBody
	if err := json.Unmarshal(block.Bytes, &body); err != nil {
		return nil, pkierr.ErrDecryptFailed
	}
	cek, err := decrypter.Decrypt(rand.Reader, body.WrappedKey, &rsa.OAEPOptions{Hash: crypto.SHA256})
	if err != nil {
		return nil, pkierr.ErrDecryptFailed
	}
	blockCipher, err := aes.NewCipher(cek)
	if err != nil {
		return nil, pkierr.ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, pkierr.ErrDecryptFailed
	}
	if len(body.Nonce) != gcmNonceSize {
		return nil, pkierr.ErrDecryptFailed
	}
	payload, err := gcm.Open(nil, body.Nonce, body.Ciphertext, nil)
	if err != nil {
		return nil, pkierr.ErrDecryptFailed
	}
	return payload, nil
}

// Info reports an envelope's kind and the associated CN from its metadata
// alone: no signature or trust validation happens here. For signed
// envelopes the issuer CN is reported unless subjectCN is set.
func Info(env []byte, subjectCN bool) (string, error) {
	block, _ := pem.Decode(env)
	if block == nil {
		return "", fmt.Errorf("%w: not an envelope", pkierr.ErrInvalidKey)
	}
	switch block.Type {
	case signedBlockType:
		var body signedBody
		if err := json.Unmarshal(block.Bytes, &body); err != nil {
			return "", fmt.Errorf("%w: %v", pkierr.ErrInvalidKey, err)
		}
		cert, err := x509.ParseCertificate(body.Cert)
		if err != nil {
			return "", fmt.Errorf("%w: %v", pkierr.ErrInvalidKey, err)
		}
		cn := cert.Issuer.CommonName
		if subjectCN {
			cn = cert.Subject.CommonName
		}
		return fmt.Sprintf("Signed by %q", cn), nil
	case encryptedBlockType:
		var body encryptedBody
		if err := json.Unmarshal(block.Bytes, &body); err != nil {
			return "", fmt.Errorf("%w: %v", pkierr.ErrInvalidKey, err)
		}
		return fmt.Sprintf("Encrypted by %q", body.Recipient), nil
	case detachedBlockType:
		return "Detached signature", nil
	default:
		return "", fmt.Errorf("%w: unknown envelope type %q", pkierr.ErrInvalidKey, block.Type)
	}
}
