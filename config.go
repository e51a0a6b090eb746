package authcore

import (
	"fmt"
	"time"

	"github.com/feastbook/authcore/password"
	"github.com/feastbook/authcore/token"
	"github.com/feastbook/authcore/totp"
)

// Config holds every tunable of the engine. Zero values are filled from
// DefaultConfig by the builder, so callers only set what they need.
type Config struct {
	Token       TokenConfig
	Password    PasswordConfig
	TOTP        TOTPConfig
	BackupCodes BackupCodeConfig
	Audit       AuditConfig
}

// TokenConfig describes how session and temporary tokens are minted.
type TokenConfig struct {
	// SessionTTL is the lifetime of a full session token.
	SessionTTL time.Duration
	// TemporaryTTL is the lifetime of the mid-login two-factor token.
	// Keep it short: it exists only to bridge the credential check and
	// the second-factor proof.
	TemporaryTTL time.Duration
	// SigningMethod selects HS256 or Ed25519.
	SigningMethod token.SigningMethod
	// PrivateKey is the HMAC secret for HS256 or the Ed25519 seed.
	PrivateKey []byte
	// PublicKey is only needed for Ed25519 verification.
	PublicKey []byte
	Issuer    string
	// Leeway tolerates small clock drift when validating exp/nbf.
	Leeway time.Duration
}

// PasswordConfig tunes the argon2id hasher.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// RehashOnLogin upgrades stored hashes to the current parameters
	// after a successful primary-credential login.
	RehashOnLogin bool
}

// TOTPConfig tunes time-based code generation and verification.
type TOTPConfig struct {
	Issuer     string
	Period     uint
	Skew       uint
	SecretSize uint
}

// BackupCodeConfig shapes the single-use recovery codes issued alongside
// two-factor setup.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled bool
	// BufferSize is the dispatch channel capacity. When the sink cannot
	// keep up and DropIfFull is set, events are counted and discarded
	// rather than blocking login traffic.
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration. The token signing key
// has no safe default and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SessionTTL:    24 * time.Hour,
			TemporaryTTL:  5 * time.Minute,
			SigningMethod: token.MethodHS256,
			Issuer:        "feastbook",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:        64 * 1024,
			Time:          3,
			Parallelism:   2,
			SaltLength:    16,
			KeyLength:     32,
			RehashOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer:     "feastbook",
			Period:     30,
			Skew:       2,
			SecretSize: 20,
		},
		BackupCodes: BackupCodeConfig{
			Count:  8,
			Length: 8,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate checks for configurations that would be unsafe or unusable.
func (c Config) Validate() error {
	if len(c.Token.PrivateKey) == 0 {
		return fmt.Errorf("%w: token signing key is required", ErrValidation)
	}
	if c.Token.SigningMethod == token.MethodHS256 && len(c.Token.PrivateKey) < 32 {
		return fmt.Errorf("%w: HS256 key must be at least 32 bytes", ErrValidation)
	}
	if c.Token.SessionTTL <= 0 {
		return fmt.Errorf("%w: session TTL must be positive", ErrValidation)
	}
	if c.Token.TemporaryTTL <= 0 {
		return fmt.Errorf("%w: temporary token TTL must be positive", ErrValidation)
	}
	if c.Token.TemporaryTTL > c.Token.SessionTTL {
		return fmt.Errorf("%w: temporary token TTL exceeds session TTL", ErrValidation)
	}
	if c.Password.Memory < 8*1024 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return fmt.Errorf("%w: password hashing parameters are too weak", ErrValidation)
	}
	if c.BackupCodes.Count < 1 || c.BackupCodes.Count > 32 {
		return fmt.Errorf("%w: backup code count must be between 1 and 32", ErrValidation)
	}
	if c.BackupCodes.Length < 6 {
		return fmt.Errorf("%w: backup codes shorter than 6 characters are guessable", ErrValidation)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit buffer size must be positive when auditing is enabled", ErrValidation)
	}
	return nil
}

func (c Config) hasherConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c Config) totpConfig() totp.Config {
	return totp.Config{
		Issuer:     c.TOTP.Issuer,
		Period:     c.TOTP.Period,
		Skew:       c.TOTP.Skew,
		SecretSize: c.TOTP.SecretSize,
	}
}

func (c Config) tokenConfig() token.Config {
	return token.Config{
		SessionTTL:    c.Token.SessionTTL,
		TemporaryTTL:  c.Token.TemporaryTTL,
		SigningMethod: c.Token.SigningMethod,
		PrivateKey:    c.Token.PrivateKey,
		PublicKey:     c.Token.PublicKey,
		Issuer:        c.Token.Issuer,
		Leeway:        c.Token.Leeway,
	}
}
