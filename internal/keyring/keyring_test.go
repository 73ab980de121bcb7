package keyring

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glitchub/cryptool/internal/pkierr"
	"github.com/glitchub/cryptool/internal/secret"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return key
}

func testCertDER(t *testing.T, cn string, key *rsa.PrivateKey) []byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: cn},
		NotBefore:          time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:           time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating test certificate: %v", err)
	}
	return der
}

func TestResolvePublicSuffix(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	der := testCertDER(t, "alice 1", key)
	path := filepath.Join(dir, "alice.p")
	if err := os.WriteFile(path, EncodeCertificate(der, FormatInfo("alice 1", "test key")), 0644); err != nil {
		t.Fatal(err)
	}

	pub, err := ResolvePublic(filepath.Join(dir, "alice"))
	if err != nil {
		t.Fatalf("ResolvePublic: %v", err)
	}
	if pub.Path != path {
		t.Fatalf("resolved %s, want %s", pub.Path, path)
	}
	if pub.Cert.Subject.CommonName != "alice 1" {
		t.Fatalf("subject CN = %q", pub.Cert.Subject.CommonName)
	}
	if !strings.Contains(pub.Info, "test key") {
		t.Fatalf("info annotation lost: %q", pub.Info)
	}
}

func TestResolvePublicLiteralFallback(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	path := filepath.Join(dir, "anchor.cert")
	if err := os.WriteFile(path, EncodeCertificate(testCertDER(t, "anchor", key), ""), 0644); err != nil {
		t.Fatal(err)
	}
	pub, err := ResolvePublic(path)
	if err != nil {
		t.Fatalf("ResolvePublic literal: %v", err)
	}
	if pub.Cert.Subject.CommonName != "anchor" {
		t.Fatalf("subject CN = %q", pub.Cert.Subject.CommonName)
	}
}

func TestResolveMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolvePublic(filepath.Join(dir, "nope")); !errors.Is(err, pkierr.ErrKeyNotFound) {
		t.Fatalf("public: got %v, want ErrKeyNotFound", err)
	}
	if _, err := ResolveSecret(filepath.Join(dir, "nope")); !errors.Is(err, pkierr.ErrKeyNotFound) {
		t.Fatalf("secret: got %v, want ErrKeyNotFound", err)
	}
}

func TestResolvePublicInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.p")
	if err := os.WriteFile(path, []byte("not a certificate\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolvePublic(filepath.Join(dir, "junk")); !errors.Is(err, pkierr.ErrInvalidKey) {
		t.Fatalf("got %v, want ErrInvalidKey", err)
	}
}

func TestResolveSecretRejectsCertificate(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	path := filepath.Join(dir, "alice.s")
	if err := os.WriteFile(path, EncodeCertificate(testCertDER(t, "alice", key), ""), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveSecret(filepath.Join(dir, "alice")); !errors.Is(err, pkierr.ErrInvalidKey) {
		t.Fatalf("got %v, want ErrInvalidKey", err)
	}
}

func TestLockedKeyIntrospectionWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	body, err := EncodeLockedSecret(key, []byte("pw"), FormatInfo("alice 1", ""))
	if err != nil {
		t.Fatalf("EncodeLockedSecret: %v", err)
	}
	path := filepath.Join(dir, "alice.s")
	if err := os.WriteFile(path, body, 0600); err != nil {
		t.Fatal(err)
	}

	sec, err := ResolveSecret(filepath.Join(dir, "alice"))
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if !sec.Locked {
		t.Fatal("key should be marked locked")
	}

	// Metadata must be readable with no passphrase at all.
	n, err := sec.Modulus()
	if err != nil {
		t.Fatalf("Modulus: %v", err)
	}
	if n.Cmp(key.N) != 0 {
		t.Fatal("locked modulus does not match original key")
	}
	bits, err := sec.Bits()
	if err != nil || bits != 1024 {
		t.Fatalf("Bits = %d, %v", bits, err)
	}
	if cn, ok := CommonNameFromInfo(sec.Info); !ok || cn != "alice 1" {
		t.Fatalf("CN from info = %q, %v", cn, ok)
	}

	// Opening without a provider must fail, not hang on a prompt.
	if _, err := sec.Open(nil); !errors.Is(err, pkierr.ErrPromptDenied) {
		t.Fatalf("Open(nil) = %v, want ErrPromptDenied", err)
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t)
	name := filepath.Join(dir, "alice")
	info := FormatInfo("alice 1", "roundtrip")
	if err := os.WriteFile(name+".s", EncodeSecret(key, info), 0600); err != nil {
		t.Fatal(err)
	}

	pass := secret.Static{Value: []byte("hunter2")}
	if err := Lock(name, pass); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	sec, err := ResolveSecret(name)
	if err != nil {
		t.Fatalf("ResolveSecret after lock: %v", err)
	}
	if !sec.Locked {
		t.Fatal("key should be locked")
	}
	if sec.Info != info {
		t.Fatalf("info annotation lost across lock: %q", sec.Info)
	}
	if err := Lock(name, pass); !errors.Is(err, pkierr.ErrAlreadyLocked) {
		t.Fatalf("double lock = %v, want ErrAlreadyLocked", err)
	}

	// Wrong passphrase is indistinguishable from corruption.
	if err := Unlock(name, secret.Static{Value: []byte("wrong")}); !errors.Is(err, pkierr.ErrDecryptFailed) {
		t.Fatalf("unlock with wrong passphrase = %v, want ErrDecryptFailed", err)
	}

	if err := Unlock(name, pass); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	sec, err = ResolveSecret(name)
	if err != nil {
		t.Fatalf("ResolveSecret after unlock: %v", err)
	}
	if sec.Locked {
		t.Fatal("key should be unlocked")
	}
	if sec.Info != info {
		t.Fatalf("info annotation lost across unlock: %q", sec.Info)
	}
	got, err := sec.Open(nil)
	if err != nil {
		t.Fatalf("Open after unlock: %v", err)
	}
	if got.N.Cmp(key.N) != 0 {
		t.Fatal("modulus changed across lock/unlock")
	}
	if err := Unlock(name, pass); !errors.Is(err, pkierr.ErrNotLocked) {
		t.Fatalf("double unlock = %v, want ErrNotLocked", err)
	}
}

func TestWriteExclusiveRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice.p")
	if err := WriteExclusive(path, []byte("one"), 0644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteExclusive(path, []byte("two"), 0644); !errors.Is(err, pkierr.ErrAlreadyExists) {
		t.Fatalf("second write = %v, want ErrAlreadyExists", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "one" {
		t.Fatalf("original content clobbered: %q, %v", data, err)
	}
}

func TestInfoAnnotationHelpers(t *testing.T) {
	cases := []struct {
		cn, text string
	}{
		{"alice 1724700000", ""},
		{"bob 2", "build signing key"},
		{`odd "quoted" name`, "x"},
	}
	for _, c := range cases {
		info := FormatInfo(c.cn, c.text)
		cn, ok := CommonNameFromInfo(info)
		if !ok {
			t.Fatalf("no CN parsed from %q", info)
		}
		// %q escaping means exotic CNs may not round-trip exactly; the
		// common unescaped case must.
		if !strings.ContainsAny(c.cn, `"\`) && cn != c.cn {
			t.Fatalf("CN %q round-tripped as %q", c.cn, cn)
		}
	}
	if _, ok := CommonNameFromInfo("free text only"); ok {
		t.Fatal("CN parsed from annotation without one")
	}
}
