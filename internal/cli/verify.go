package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/glitchub/cryptool/internal/envelope"
	"github.com/glitchub/cryptool/internal/keyring"
	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/trust"
)

type VerifyCmd struct {
	Detached string `short:"d" placeholder:"FILE" help:"Verify this detached signature against the payload on stdin."`
	Sender   string `arg:"" help:"Sender certificate base name."`
	Signer   string `arg:"" optional:"" help:"Signer certificate anchoring the sender (defaults to the sender itself)."`
}

func (c *VerifyCmd) Run(ctx *Context) error {
	sender, err := keyring.ResolvePublic(c.Sender)
	if err != nil {
		return err
	}

	input, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if c.Detached != "" {
		sig, err := os.ReadFile(c.Detached)
		if err != nil {
			ctx.Log.Debug().Err(err).Msg("detached signature unreadable")
			return pkierr.ErrVerifyFailed
		}
		if err := envelope.VerifyDetached(sig, input, sender.Cert); err != nil {
			return err
		}
		_, err = ctx.Stdout.Write(input)
		return err
	}

	payload, err := envelope.Verify(input, sender.Cert)
	if err != nil {
		return err
	}

	// The sender must be anchored before the payload is released. Any trust
	// violation collapses into the same verification failure; detail is
	// available at debug level only.
	anchor := sender
	if c.Signer != "" {
		anchor, err = keyring.ResolvePublic(c.Signer)
		if err != nil {
			return err
		}
	}
	if err := trust.Verify(sender.Cert, anchor.Cert); err != nil {
		ctx.Log.Debug().Err(err).Msg("sender trust check failed")
		return pkierr.ErrVerifyFailed
	}

	_, err = ctx.Stdout.Write(payload)
	return err
}
