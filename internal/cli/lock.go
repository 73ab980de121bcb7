package cli

import "github.com/glitchub/cryptool/internal/keyring"

type LockCmd struct {
	Key string `arg:"" help:"Unlocked secret key to protect."`
}

func (c *LockCmd) Run(ctx *Context) error {
	return keyring.Lock(c.Key, ctx.Secrets)
}

type UnlockCmd struct {
	Key string `arg:"" help:"Locked secret key to restore to cleartext."`
}

func (c *UnlockCmd) Run(ctx *Context) error {
	return keyring.Unlock(c.Key, ctx.Secrets)
}
