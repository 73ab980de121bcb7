package cli

import (
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/glitchub/cryptool/internal/cryptoutil"
	"github.com/glitchub/cryptool/internal/keyring"
)

type ExportCmd struct {
	Out  string `short:"o" placeholder:"FILE" help:"Output file (default NAME.p12)."`
	Name string `arg:"" help:"Key pair base name to bundle."`
}

// Run bundles a certificate and its secret key into a PKCS#12 file under a
// prompted passphrase. Like generate, it refuses to overwrite.
func (c *ExportCmd) Run(ctx *Context) error {
	pub, err := keyring.ResolvePublic(c.Name)
	if err != nil {
		return err
	}
	sec, err := keyring.ResolveSecret(c.Name)
	if err != nil {
		return err
	}
	key, err := sec.Open(ctx.Secrets)
	if err != nil {
		return err
	}

	pass, err := ctx.Secrets.Passphrase("Export passphrase: ", true)
	if err != nil {
		return err
	}
	defer cryptoutil.Zeroize(pass)

	pfx, err := pkcs12.Modern.Encode(key, pub.Cert, nil, string(pass))
	if err != nil {
		return err
	}

	out := c.Out
	if out == "" {
		out = c.Name + ".p12"
	}
	return keyring.WriteExclusive(out, pfx, 0600)
}
