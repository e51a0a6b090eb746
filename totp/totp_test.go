package totp

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	code, err := ptotp.GenerateCodeCustom(secret, at, ptotp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

func TestGenerateSecretProducesProvisioningPayload(t *testing.T) {
	e := NewEngine(Config{Issuer: "feastbook-test"})

	setup, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("expected non-empty secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %s", setup.URI)
	}
	if !strings.Contains(setup.URI, "feastbook-test") {
		t.Fatalf("expected issuer in provisioning URI: %s", setup.URI)
	}
	raw, err := base64.StdEncoding.DecodeString(setup.QRCodePNG)
	if err != nil {
		t.Fatalf("QR payload is not valid base64: %v", err)
	}
	if len(raw) < 8 || string(raw[1:4]) != "PNG" {
		t.Fatal("QR payload is not a PNG image")
	}
}

func TestGenerateSecretIsUniquePerCall(t *testing.T) {
	e := NewEngine(Config{})

	first, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	second, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected distinct secrets per call")
	}
}

func TestVerifyCodeAcceptsDriftWithinWindow(t *testing.T) {
	e := NewEngine(Config{})
	setup, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Now()
	for _, offset := range []time.Duration{-60 * time.Second, -30 * time.Second, 0, 30 * time.Second, 60 * time.Second} {
		code := codeAt(t, setup.Secret, now.Add(offset))
		if !e.VerifyCodeAt(setup.Secret, code, now) {
			t.Fatalf("code at offset %v should verify within the skew window", offset)
		}
	}
}

func TestVerifyCodeRejectsDriftBeyondWindow(t *testing.T) {
	e := NewEngine(Config{})
	setup, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Now()
	// Anchor to a step boundary so ±3 steps is unambiguous.
	now = now.Truncate(30 * time.Second).Add(15 * time.Second)

	stale := codeAt(t, setup.Secret, now.Add(-3*30*time.Second))
	if e.VerifyCodeAt(setup.Secret, stale, now) {
		t.Fatal("code three steps old should not verify")
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	e := NewEngine(Config{})
	setup, err := e.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Now()
	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef"} {
		if e.VerifyCodeAt(setup.Secret, code, now) {
			t.Fatalf("malformed code %q should not verify", code)
		}
	}
	if e.VerifyCodeAt("", codeAt(t, setup.Secret, now), now) {
		t.Fatal("empty secret should not verify")
	}
}
