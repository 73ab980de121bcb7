package cli

import (
	"crypto"
	"fmt"
	"io"

	"github.com/glitchub/cryptool/internal/envelope"
	"github.com/glitchub/cryptool/internal/hsm"
	"github.com/glitchub/cryptool/internal/keyring"
)

type EncryptCmd struct {
	Recipient string `arg:"" help:"Recipient certificate base name."`
}

func (c *EncryptCmd) Run(ctx *Context) error {
	recipient, err := keyring.ResolvePublic(c.Recipient)
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	env, err := envelope.Encrypt(payload, recipient.Cert)
	if err != nil {
		return err
	}
	_, err = ctx.Stdout.Write(env)
	return err
}

type DecryptCmd struct {
	HSM       bool   `short:"y" help:"Use an HSM key; RECIPIENT names the token label."`
	Recipient string `arg:"" help:"Recipient secret key base name or HSM label."`
}

func (c *DecryptCmd) Run(ctx *Context) error {
	var decrypter crypto.Decrypter
	if c.HSM {
		session, err := hsm.Open(ctx.Config, ctx.Workspace, c.Recipient, ctx.Secrets, ctx.Log)
		if err != nil {
			return err
		}
		defer session.Close()
		decrypter = session
	} else {
		sec, err := keyring.ResolveSecret(c.Recipient)
		if err != nil {
			return err
		}
		key, err := sec.Open(ctx.Secrets)
		if err != nil {
			return err
		}
		decrypter = key
	}

	env, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}
	payload, err := envelope.Decrypt(env, decrypter)
	if err != nil {
		return err
	}
	_, err = ctx.Stdout.Write(payload)
	return err
}
