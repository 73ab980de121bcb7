// Command-level tests: each case drives the parsed command surface the way
// main does, with a static passphrase provider in place of the terminal.
package integration

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/glitchub/cryptool/internal/cli"
	"github.com/glitchub/cryptool/internal/config"
	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/secret"
	"github.com/glitchub/cryptool/internal/workspace"
)

type harness struct {
	t    *testing.T
	ws   *workspace.Workspace
	cfg  *config.Config
	pass string
	dir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws, err := workspace.New(zerolog.Nop())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	t.Cleanup(ws.Release)

	cfg := &config.Config{}
	cfg.Generate.Bits = 1024
	cfg.Engine.ConnectorPort = 6789

	return &harness{t: t, ws: ws, cfg: cfg, pass: "hunter2", dir: t.TempDir()}
}

// path maps a short key name into the test directory.
func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

// run parses and executes one command line, feeding stdin and capturing
// stdout, against the harness workspace.
func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var root cli.CLI
	parser, err := kong.New(&root,
		kong.Name("cryptool"),
		kong.Vars{"version": "test"},
	)
	if err != nil {
		h.t.Fatalf("building parser: %v", err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		h.t.Fatalf("parsing %q: %v", args, err)
	}

	var out bytes.Buffer
	appCtx := &cli.Context{
		Config:    h.cfg,
		Workspace: h.ws,
		Secrets:   secret.Static{Value: []byte(h.pass)},
		Stdin:     strings.NewReader(stdin),
		Stdout:    &out,
		Log:       zerolog.Nop(),
	}
	runErr := kctx.Run(appCtx)
	return out.String(), runErr
}

// mustRun is run for steps that are setup, not the behavior under test.
func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("%q: %v", args, err)
	}
	return out
}

func TestSignVerifyFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", alice)

	env := h.mustRun("hi\n", "sign", alice)
	if !strings.Contains(env, "SIGNED ENVELOPE") {
		t.Fatalf("sign output:\n%s", env)
	}

	payload := h.mustRun(env, "verify", alice)
	if payload != "hi\n" {
		t.Fatalf("verify output = %q", payload)
	}

	// A corrupted envelope and a wrong sender fail identically.
	if _, err := h.run("garbage", "verify", alice); !errors.Is(err, pkierr.ErrVerifyFailed) {
		t.Fatalf("corrupt envelope: %v", err)
	}
	bob := h.path("bob")
	h.mustRun("", "generate", bob)
	if _, err := h.run(env, "verify", bob); !errors.Is(err, pkierr.ErrVerifyFailed) {
		t.Fatalf("wrong sender: %v", err)
	}
}

func TestDelegatedTrustFlow(t *testing.T) {
	h := newHarness(t)
	ca := h.path("ca")
	bob := h.path("bob")
	h.mustRun("", "generate", ca)
	h.mustRun("", "generate", bob, ca)

	// bob is anchored by ca, not by himself.
	if _, err := h.run("", "check", bob, ca); err != nil {
		t.Fatalf("check bob ca: %v", err)
	}
	if _, err := h.run("", "check", bob, bob); !errors.Is(err, pkierr.ErrNotSelfSigned) {
		t.Fatalf("check bob bob: %v", err)
	}
	if _, err := h.run("", "check", ca, ca); err != nil {
		t.Fatalf("check ca ca: %v", err)
	}

	// Verification against the anchoring signer releases the payload;
	// verification against the sender alone does not.
	env := h.mustRun("delegated\n", "sign", bob)
	out := h.mustRun(env, "verify", bob, ca)
	if out != "delegated\n" {
		t.Fatalf("verify output = %q", out)
	}
	if _, err := h.run(env, "verify", bob); !errors.Is(err, pkierr.ErrVerifyFailed) {
		t.Fatalf("self-anchored verify of delegated cert: %v", err)
	}
}

func TestEncryptDecryptFlow(t *testing.T) {
	h := newHarness(t)
	bob := h.path("bob")
	eve := h.path("eve")
	h.mustRun("", "generate", bob)
	h.mustRun("", "generate", eve)

	env := h.mustRun("the cafe at noon\n", "encrypt", bob)
	if !strings.Contains(env, "ENCRYPTED ENVELOPE") || strings.Contains(env, "cafe") {
		t.Fatalf("encrypt output:\n%s", env)
	}

	out := h.mustRun(env, "decrypt", bob)
	if out != "the cafe at noon\n" {
		t.Fatalf("decrypt output = %q", out)
	}
	if _, err := h.run(env, "decrypt", eve); !errors.Is(err, pkierr.ErrDecryptFailed) {
		t.Fatalf("decrypt with wrong key: %v", err)
	}
}

func TestLockFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", alice)
	env := h.mustRun("for later\n", "encrypt", alice)

	h.mustRun("", "lock", alice)

	// Metadata stays readable with no passphrase on hand.
	h.pass = ""
	bits := h.mustRun("", "dump", "-b", alice+".s")
	if strings.TrimSpace(bits) != "1024" {
		t.Fatalf("dump -b on locked key = %q", bits)
	}
	if _, err := h.run("", "dump", "-m", alice+".s"); err != nil {
		t.Fatalf("dump -m on locked key: %v", err)
	}

	// Using the key does need the passphrase.
	h.pass = "wrong"
	if _, err := h.run(env, "decrypt", alice); !errors.Is(err, pkierr.ErrDecryptFailed) {
		t.Fatalf("decrypt with wrong passphrase: %v", err)
	}
	h.pass = "hunter2"
	if out := h.mustRun(env, "decrypt", alice); out != "for later\n" {
		t.Fatalf("decrypt after lock = %q", out)
	}

	h.mustRun("", "unlock", alice)
	if _, err := h.run("", "unlock", alice); !errors.Is(err, pkierr.ErrNotLocked) {
		t.Fatalf("double unlock: %v", err)
	}
}

func TestDetachedSignatureFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", alice)

	sig := h.mustRun("tarball bytes", "sign", "-d", alice)
	sigFile := h.path("release.sig")
	if err := os.WriteFile(sigFile, []byte(sig), 0644); err != nil {
		t.Fatal(err)
	}

	out := h.mustRun("tarball bytes", "verify", "-d", sigFile, alice)
	if out != "tarball bytes" {
		t.Fatalf("verify -d output = %q", out)
	}
	if _, err := h.run("tampered bytes", "verify", "-d", sigFile, alice); !errors.Is(err, pkierr.ErrVerifyFailed) {
		t.Fatalf("mutated payload: %v", err)
	}
	if _, err := h.run("tarball bytes", "verify", "-d", h.path("missing.sig"), alice); !errors.Is(err, pkierr.ErrVerifyFailed) {
		t.Fatalf("missing signature file: %v", err)
	}
}

func TestGenerateRefusals(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", alice)

	if _, err := h.run("", "generate", alice); !errors.Is(err, pkierr.ErrAlreadyExists) {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := h.run("", "generate", "-b", "256", h.path("weak")); !errors.Is(err, pkierr.ErrWeakKey) {
		t.Fatalf("weak key: %v", err)
	}
	if _, err := h.run("", "sign", h.path("nobody")); !errors.Is(err, pkierr.ErrKeyNotFound) {
		t.Fatalf("missing key: %v", err)
	}
}

func TestDumpFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", "-i", "build key", "-c", "alice prime", alice)

	if cn := strings.TrimSpace(h.mustRun("", "dump", "-c", alice+".p")); cn != "alice prime" {
		t.Fatalf("dump -c public = %q", cn)
	}
	if cn := strings.TrimSpace(h.mustRun("", "dump", "-c", alice+".s")); cn != "alice prime" {
		t.Fatalf("dump -c secret = %q", cn)
	}
	pubMod := h.mustRun("", "dump", "-m", alice+".p")
	secMod := h.mustRun("", "dump", "-m", alice+".s")
	if pubMod != secMod {
		t.Fatal("public and secret moduli differ")
	}
	if bits := strings.TrimSpace(h.mustRun("", "dump", "-b", alice)); bits != "1024" {
		t.Fatalf("dump -b = %q", bits)
	}
}

func TestInfoFlow(t *testing.T) {
	h := newHarness(t)
	ca := h.path("ca")
	alice := h.path("alice")
	h.mustRun("", "generate", "-c", "test ca", ca)
	h.mustRun("", "generate", "-c", "alice prime", alice, ca)

	env := h.mustRun("hi", "sign", alice)
	if out := strings.TrimSpace(h.mustRun(env, "info")); out != `Signed by "test ca"` {
		t.Fatalf("info = %q", out)
	}
	if out := strings.TrimSpace(h.mustRun(env, "info", "-r")); out != `Signed by "alice prime"` {
		t.Fatalf("info -r = %q", out)
	}

	enc := h.mustRun("hi", "encrypt", alice)
	if out := strings.TrimSpace(h.mustRun(enc, "info")); out != `Encrypted by "alice prime"` {
		t.Fatalf("info on encrypted = %q", out)
	}
}

func TestExportFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.path("alice")
	h.mustRun("", "generate", "-c", "alice prime", alice)

	out := h.path("alice.p12")
	h.mustRun("", "export", "-o", out, alice)

	pfx, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	key, cert, err := pkcs12.Decode(pfx, h.pass)
	if err != nil {
		t.Fatalf("decoding bundle: %v", err)
	}
	if key == nil {
		t.Fatal("bundle has no key")
	}
	if cert.Subject.CommonName != "alice prime" {
		t.Fatalf("bundle CN = %q", cert.Subject.CommonName)
	}

	// Exports refuse to overwrite like everything else.
	if _, err := h.run("", "export", "-o", out, alice); !errors.Is(err, pkierr.ErrAlreadyExists) {
		t.Fatalf("overwrite: %v", err)
	}
}
