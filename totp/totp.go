// Package totp generates and verifies time-based one-time codes for the
// second factor. It wraps github.com/pquerna/otp and fixes the protocol
// parameters the rest of the core relies on: 6-digit codes, SHA1, and a
// verification window of ±2 periods to absorb client clock drift.
package totp

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Digits is the fixed code length accepted by VerifyCode.
const Digits = 6

const qrImageSize = 200

// Config controls secret generation and the verification window.
type Config struct {
	Issuer     string
	Period     uint // seconds per step, 30 when zero
	Skew       uint // accepted steps either side of now, 2 when zero and not pinned
	SecretSize uint // secret bytes, 20 when zero

	// PinSkew keeps an explicit Skew of zero instead of applying the default.
	PinSkew bool
}

// Engine is a stateless code generator/verifier. Safe for concurrent use.
type Engine struct {
	config Config
}

// Setup carries everything a client needs to enroll an authenticator:
// the base32 secret for manual entry, the otpauth:// provisioning URI, and
// the same URI rendered as a base64-encoded PNG QR code.
type Setup struct {
	Secret    string
	URI       string
	QRCodePNG string
}

// NewEngine applies defaults to cfg and returns an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Issuer == "" {
		cfg.Issuer = "feastbook"
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Skew == 0 && !cfg.PinSkew {
		cfg.Skew = 2
	}
	if cfg.SecretSize == 0 {
		cfg.SecretSize = 20
	}
	return &Engine{config: cfg}
}

// GenerateSecret mints a cryptographically random secret labelled for the
// given account and renders the provisioning payload. It has no side effects;
// persisting the pending secret is the caller's job.
func (e *Engine) GenerateSecret(account string) (*Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: account,
		Period:      e.config.Period,
		SecretSize:  e.config.SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Setup{
		Secret:    key.Secret(),
		URI:       key.URL(),
		QRCodePNG: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// VerifyCode checks code against secret at the current time.
func (e *Engine) VerifyCode(secret, code string) bool {
	return e.VerifyCodeAt(secret, code, time.Now())
}

// VerifyCodeAt checks code against secret at an explicit instant. Malformed
// input (wrong length, non-digits, empty secret) returns false without
// computing any HMAC.
func (e *Engine) VerifyCodeAt(secret, code string, at time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !isDigits(trimmed) {
		return false
	}
	if secret == "" {
		return false
	}

	ok, err := totp.ValidateCustom(trimmed, secret, at, totp.ValidateOpts{
		Period:    e.config.Period,
		Skew:      e.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
