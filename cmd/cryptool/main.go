package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/glitchub/cryptool/internal/cli"
	"github.com/glitchub/cryptool/internal/config"
	"github.com/glitchub/cryptool/internal/secret"
	"github.com/glitchub/cryptool/internal/workspace"
)

var version = "dev"

func main() {
	var root cli.CLI
	kctx := kong.Parse(&root,
		kong.Name("cryptool"),
		kong.Description("Minimal public-key infrastructure tool: issue keys and certificates, sign, verify, encrypt, decrypt."),
		kong.Vars{"version": version},
	)
	os.Exit(run(kctx, &root))
}

// run owns the invocation lifecycle so the workspace is released on every
// exit path; os.Exit happens only after the deferred cleanup has run.
func run(kctx *kong.Context, root *cli.CLI) int {
	level := zerolog.WarnLevel
	if root.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cryptool: %v\n", err)
		return 1
	}

	ws, err := workspace.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cryptool: %v\n", err)
		return 1
	}
	defer ws.Release()

	ctx := &cli.Context{
		Config:    cfg,
		Workspace: ws,
		Secrets:   secret.Terminal{},
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Log:       log,
	}
	if err := kctx.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cryptool: %v\n", err)
		return 1
	}
	return 0
}
