// Package cli defines the command surface. Each command resolves its keys
// first, performs its single cryptographic or issuance action, and reports
// on stdout; the ephemeral workspace brackets the whole invocation.
package cli

import (
	"io"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/glitchub/cryptool/internal/config"
	"github.com/glitchub/cryptool/internal/secret"
	"github.com/glitchub/cryptool/internal/workspace"
)

// CLI is the root command set.
type CLI struct {
	Sign    SignCmd    `cmd:"" help:"Sign stdin into a signed envelope or detached signature."`
	Verify  VerifyCmd  `cmd:"" help:"Verify a signed envelope or detached signature and emit the payload."`
	Encrypt EncryptCmd `cmd:"" help:"Encrypt stdin to a recipient's public key."`
	Decrypt DecryptCmd `cmd:"" help:"Decrypt an envelope with the recipient's secret key."`

	Generate GenerateCmd `cmd:"" help:"Generate a key pair and issue its certificate."`
	Check    CheckCmd    `cmd:"" help:"Check that a certificate is anchored by a signer."`

	Lock   LockCmd   `cmd:"" help:"Passphrase-protect a secret key in place."`
	Unlock UnlockCmd `cmd:"" help:"Remove passphrase protection from a secret key in place."`

	Dump   DumpCmd   `cmd:"" help:"Report metadata from a key file."`
	Info   InfoCmd   `cmd:"" help:"Report an envelope's kind and associated CN from stdin."`
	Export ExportCmd `cmd:"" help:"Bundle a key pair into a PKCS#12 file."`

	Debug   bool `help:"Emit diagnostic detail."`
	Version kong.VersionFlag
}

// Context carries the per-invocation dependencies into commands. Nothing
// here is process-global: configuration, workspace, and secret entry are all
// explicit.
type Context struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	Secrets   secret.Provider
	Stdin     io.Reader
	Stdout    io.Writer
	Log       zerolog.Logger
}
