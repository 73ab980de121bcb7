package cli

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/glitchub/cryptool/internal/envelope"
	"github.com/glitchub/cryptool/internal/keyring"
	"github.com/glitchub/cryptool/internal/pkierr"
)

type DumpCmd struct {
	Bits    bool   `short:"b" xor:"mode" help:"Report the modulus size in bits."`
	CN      bool   `short:"c" xor:"mode" help:"Report the common name."`
	Modulus bool   `short:"m" xor:"mode" help:"Report the modulus in hexadecimal."`
	Key     string `arg:"" help:"Key to inspect, public or secret."`
}

// Run reports key metadata without ever prompting for a passphrase: locked
// secret keys are read from their headers and Info annotation only.
func (c *DumpCmd) Run(ctx *Context) error {
	pub, pubErr := keyring.ResolvePublic(c.Key)
	if pubErr == nil {
		return c.dumpPublic(ctx, pub)
	}
	// A literal .s path resolves publicly to "exists but not a certificate",
	// so any public failure falls through to the secret side.
	sec, secErr := keyring.ResolveSecret(c.Key)
	if secErr == nil {
		return c.dumpSecret(ctx, sec)
	}
	if errors.Is(pubErr, pkierr.ErrKeyNotFound) {
		return secErr
	}
	return pubErr
}

func (c *DumpCmd) dumpPublic(ctx *Context, pub *keyring.PublicKey) error {
	key, ok := pub.Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: %s: not an RSA certificate", pkierr.ErrInvalidKey, pub.Path)
	}
	switch {
	case c.Bits:
		fmt.Fprintln(ctx.Stdout, key.N.BitLen())
	case c.CN:
		fmt.Fprintln(ctx.Stdout, pub.Cert.Subject.CommonName)
	case c.Modulus:
		fmt.Fprintf(ctx.Stdout, "%X\n", key.N)
	default:
		fmt.Fprintf(ctx.Stdout, "public certificate %q, %d bits\n", pub.Cert.Subject.CommonName, key.N.BitLen())
	}
	return nil
}

func (c *DumpCmd) dumpSecret(ctx *Context, sec *keyring.SecretKey) error {
	switch {
	case c.Bits:
		bits, err := sec.Bits()
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.Stdout, bits)
	case c.CN:
		cn, ok := keyring.CommonNameFromInfo(sec.Info)
		if !ok {
			return fmt.Errorf("%w: %s has no CN annotation", pkierr.ErrInvalidKey, sec.Path)
		}
		fmt.Fprintln(ctx.Stdout, cn)
	case c.Modulus:
		n, err := sec.Modulus()
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.Stdout, "%X\n", n)
	default:
		kind := "secret key"
		if sec.Locked {
			kind = "locked secret key"
		}
		bits, err := sec.Bits()
		if err != nil {
			return err
		}
		if cn, ok := keyring.CommonNameFromInfo(sec.Info); ok {
			fmt.Fprintf(ctx.Stdout, "%s %q, %d bits\n", kind, cn, bits)
		} else {
			fmt.Fprintf(ctx.Stdout, "%s, %d bits\n", kind, bits)
		}
	}
	return nil
}

type InfoCmd struct {
	Subject bool `short:"r" help:"Report the subject CN instead of the issuer CN."`
}

// Run is a pure metadata read: no signature or trust validation.
func (c *InfoCmd) Run(ctx *Context) error {
	env, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}
	line, err := envelope.Info(env, c.Subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Stdout, line)
	return nil
}
