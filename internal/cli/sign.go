package cli

import (
	"crypto"
	"fmt"
	"io"

	"github.com/glitchub/cryptool/internal/envelope"
	"github.com/glitchub/cryptool/internal/hsm"
	"github.com/glitchub/cryptool/internal/keyring"
)

type SignCmd struct {
	HSM      bool   `short:"y" help:"Use an HSM key; SECRET names the token label."`
	Detached bool   `short:"d" help:"Emit a detached signature instead of a signed envelope."`
	Sender   string `arg:"" help:"Sender certificate base name."`
	Secret   string `arg:"" optional:"" help:"Secret key file or HSM label (defaults to the sender's)."`
}

func (c *SignCmd) Run(ctx *Context) error {
	pub, err := keyring.ResolvePublic(c.Sender)
	if err != nil {
		return err
	}

	source := c.Secret
	if source == "" {
		source = c.Sender
	}

	var signer crypto.Signer
	if c.HSM {
		session, err := hsm.Open(ctx.Config, ctx.Workspace, source, ctx.Secrets, ctx.Log)
		if err != nil {
			return err
		}
		defer session.Close()
		signer = session
	} else {
		sec, err := keyring.ResolveSecret(source)
		if err != nil {
			return err
		}
		key, err := sec.Open(ctx.Secrets)
		if err != nil {
			return err
		}
		signer = key
	}

	payload, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	var out []byte
	if c.Detached {
		out, err = envelope.SignDetached(payload, signer)
	} else {
		out, err = envelope.Sign(payload, pub.Cert, signer)
	}
	if err != nil {
		return err
	}
	_, err = ctx.Stdout.Write(out)
	return err
}
