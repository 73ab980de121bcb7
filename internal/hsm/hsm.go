// Package hsm provides hardware-token key access over PKCS#11. A Session
// stands in for a local secret key file anywhere signing or decryption needs
// one: it satisfies crypto.Signer and crypto.Decrypter against key material
// that never leaves the token.
//
// The token transport itself (the vendor module talking to the local
// connector service) is outside this package; cancellation and timeouts are
// owned by that service.
package hsm

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/miekg/pkcs11"
	"github.com/rs/zerolog"

	"github.com/glitchub/cryptool/internal/config"
	"github.com/glitchub/cryptool/internal/cryptoutil"
	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/secret"
	"github.com/glitchub/cryptool/internal/workspace"
)

// sha256DigestInfo is the DER DigestInfo prefix for SHA-256, needed because
// CKM_RSA_PKCS signs a raw digest without hash identification.
var sha256DigestInfo = []byte{
	0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01,
	0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20,
}

// Session is an open, logged-in PKCS#11 session bound to one key pair
// located by label.
type Session struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	priv    pkcs11.ObjectHandle
	pub     *rsa.PublicKey
	label   string
}

// Open loads the configured token module, renders the engine configuration
// into the workspace, logs in with a PIN from the secret provider, and
// locates the key pair by label. Missing engine configuration fails before
// any module is touched.
func Open(cfg *config.Config, ws *workspace.Workspace, label string, secrets secret.Provider, log zerolog.Logger) (*Session, error) {
	if cfg.Engine.Module == "" || cfg.Engine.Token == "" {
		return nil, fmt.Errorf("%w: engine and token module paths are required", pkierr.ErrEnvironment)
	}
	confPath, err := ws.EngineConf(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkierr.ErrEnvironment, err)
	}
	log.Debug().Str("conf", confPath).Str("label", label).Msg("opening hsm session")

	ctx := pkcs11.New(cfg.Engine.Token)
	if ctx == nil {
		return nil, fmt.Errorf("%w: cannot load %s", pkierr.ErrEnvironment, cfg.Engine.Token)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("initializing token module: %w", err)
	}

	s, err := open(ctx, label, secrets)
	if err != nil {
		ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}
	return s, nil
}

func open(ctx *pkcs11.Ctx, label string, secrets secret.Provider) (*Session, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("listing token slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, errors.New("no token present")
	}

	session, err := ctx.OpenSession(slots[0], pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("opening token session: %w", err)
	}

	pin, err := secrets.Passphrase(fmt.Sprintf("PIN for token key %q: ", label), false)
	if err != nil {
		ctx.CloseSession(session)
		return nil, err
	}
	err = ctx.Login(session, pkcs11.CKU_USER, string(pin))
	cryptoutil.Zeroize(pin)
	if err != nil {
		ctx.CloseSession(session)
		return nil, fmt.Errorf("token login: %w", err)
	}

	priv, err := findObject(ctx, session, pkcs11.CKO_PRIVATE_KEY, label)
	if err != nil {
		ctx.CloseSession(session)
		return nil, err
	}
	pubHandle, err := findObject(ctx, session, pkcs11.CKO_PUBLIC_KEY, label)
	if err != nil {
		ctx.CloseSession(session)
		return nil, err
	}
	pub, err := readPublicKey(ctx, session, pubHandle)
	if err != nil {
		ctx.CloseSession(session)
		return nil, err
	}

	return &Session{ctx: ctx, session: session, priv: priv, pub: pub, label: label}, nil
}

func findObject(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, class uint, label string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("searching token: %w", err)
	}
	objs, _, err := ctx.FindObjects(session, 1)
	if ferr := ctx.FindObjectsFinal(session); err == nil {
		err = ferr
	}
	if err != nil {
		return 0, fmt.Errorf("searching token: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%w: token key %q", pkierr.ErrKeyNotFound, label)
	}
	return objs[0], nil
}

func readPublicKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, handle pkcs11.ObjectHandle) (*rsa.PublicKey, error) {
	attrs, err := ctx.GetAttributeValue(session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("reading token public key: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

// Public returns the public half of the token key pair.
func (s *Session) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs a precomputed SHA-256 digest with CKM_RSA_PKCS, prepending the
// DigestInfo structure the mechanism expects.
func (s *Session) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	if len(digest) == 32 {
		digest = append(append([]byte(nil), sha256DigestInfo...), digest...)
	}
	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := s.ctx.SignInit(s.session, mechanism, s.priv); err != nil {
		return nil, fmt.Errorf("token sign init: %w", err)
	}
	sig, err := s.ctx.Sign(s.session, digest)
	if err != nil {
		return nil, fmt.Errorf("token sign: %w", err)
	}
	return sig, nil
}

// Decrypt unwraps RSA-OAEP ciphertext on the token.
func (s *Session) Decrypt(_ io.Reader, ciphertext []byte, _ crypto.DecrypterOpts) ([]byte, error) {
	params := pkcs11.NewOAEPParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, pkcs11.CKZ_DATA_SPECIFIED, nil)
	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, params)}
	if err := s.ctx.DecryptInit(s.session, mechanism, s.priv); err != nil {
		return nil, fmt.Errorf("token decrypt init: %w", err)
	}
	out, err := s.ctx.Decrypt(s.session, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("token decrypt: %w", err)
	}
	return out, nil
}

// Close logs out and releases the token session and module.
func (s *Session) Close() {
	s.ctx.Logout(s.session)
	s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
}
