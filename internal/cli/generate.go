package cli

import (
	"github.com/glitchub/cryptool/internal/issuer"
	"github.com/glitchub/cryptool/internal/keyring"
	"github.com/glitchub/cryptool/internal/trust"
)

type GenerateCmd struct {
	Bits  int    `short:"b" placeholder:"BITS" help:"RSA modulus size (default from configuration, 4096)."`
	Info  string `short:"i" help:"Free text recorded in the key files' Info annotation."`
	Clone string `short:"s" placeholder:"KEY" help:"Clone the secret key from this existing key instead of generating one."`
	Days  int    `short:"d" placeholder:"DAYS" help:"Validity in days from now (default: fixed 2000-2099 window)."`
	Lock  bool   `short:"l" help:"Passphrase-lock the new secret key immediately."`
	CN    string `short:"c" name:"cn" help:"Override the derived subject common name."`

	Name   string `arg:"" help:"Base name for the new key pair (NAME.p, NAME.s)."`
	Signer string `arg:"" optional:"" help:"Signer key pair; omit for a self-signed certificate."`
}

func (c *GenerateCmd) Run(ctx *Context) error {
	bits := c.Bits
	if bits == 0 && c.Clone == "" {
		bits = ctx.Config.Generate.Bits
	}
	iss := issuer.New(ctx.Workspace, ctx.Secrets, ctx.Log)
	_, err := iss.Issue(issuer.Request{
		Name:       c.Name,
		Signer:     c.Signer,
		Bits:       bits,
		Info:       c.Info,
		Days:       c.Days,
		CloneFrom:  c.Clone,
		CommonName: c.CN,
		Lock:       c.Lock,
	})
	return err
}

type CheckCmd struct {
	Key    string `arg:"" help:"Certificate to check."`
	Signer string `arg:"" help:"Signer certificate expected to anchor it."`
}

func (c *CheckCmd) Run(ctx *Context) error {
	cert, err := keyring.ResolvePublic(c.Key)
	if err != nil {
		return err
	}
	signer, err := keyring.ResolvePublic(c.Signer)
	if err != nil {
		return err
	}
	return trust.Verify(cert.Cert, signer.Cert)
}
