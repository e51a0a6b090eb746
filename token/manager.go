package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose restricts what a verified token may be used for.
type Purpose string

const (
	// PurposeSession marks a full session token accepted by the
	// authorization gate.
	PurposeSession Purpose = "session"
	// PurposeTwoFactor marks the restricted temporary token issued mid-login
	// pending second-factor completion. It is only accepted by the
	// second-factor verification step.
	PurposeTwoFactor Purpose = "twofactor"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 keypair.
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrExpired reports a structurally valid token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid reports any other verification failure: bad signature,
	// malformed payload, or a purpose mismatch.
	ErrInvalid = errors.New("invalid token")
)

// Config holds signing material and lifetimes.
type Config struct {
	SessionTTL   time.Duration
	TemporaryTTL time.Duration

	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte

	Issuer string
	Leeway time.Duration
}

// Claims is the payload shared by both token kinds. Subject carries the
// principal id.
type Claims struct {
	Username string `json:"uname"`
	Role     string `json:"role"`
	Variant  string `json:"vnt"`
	Purpose  string `json:"prp"`
	// Credential records which stored credential matched during the first
	// login step. Only set on temporary tokens; the second-factor step
	// carries it into the final audit event.
	Credential string `json:"crd,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the principal snapshot embedded into a token at issue time.
type Identity struct {
	PrincipalID string
	Username    string
	Role        string
	Variant     string
	Credential  string
}

// Manager issues and parses tokens. Immutable after construction.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SessionTTL <= 0 || cfg.TemporaryTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.TemporaryTTL >= cfg.SessionTTL {
		return nil, errors.New("temporary TTL must be shorter than session TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a signing key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// IssueSession signs a full session token for id.
func (m *Manager) IssueSession(id Identity) (string, error) {
	return m.issue(id, PurposeSession, m.config.SessionTTL)
}

// IssueTemporary signs the restricted mid-login token for id.
func (m *Manager) IssueTemporary(id Identity) (string, error) {
	return m.issue(id, PurposeTwoFactor, m.config.TemporaryTTL)
}

func (m *Manager) issue(id Identity, purpose Purpose, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:   id.Username,
		Role:       id.Role,
		Variant:    id.Variant,
		Purpose:    string(purpose),
		Credential: id.Credential,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.PrincipalID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

// Parse verifies tokenStr and checks that it carries the expected purpose.
// Expiry maps to ErrExpired; every other failure, including a wrong purpose,
// maps to ErrInvalid so callers cannot tell a forged token from a misused
// one.
func (m *Manager) Parse(tokenStr string, want Purpose) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.Purpose != string(want) {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
