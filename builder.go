package authcore

import (
	"errors"
	"fmt"

	"github.com/feastbook/authcore/password"
	"github.com/feastbook/authcore/token"
	"github.com/feastbook/authcore/totp"
)

// Builder assembles an Engine. A builder is single-use: Build succeeds at
// most once.
type Builder struct {
	config Config

	accounts PrincipalStore
	members  MemberStore

	auditSink AuditSink

	metricsEnabled bool
	built          bool
}

// New returns a builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:         DefaultConfig(),
		metricsEnabled: true,
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSigningKey sets the token signing key without replacing the rest of
// the configuration.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.Token.PrivateKey = key
	return b
}

// WithAccountStore sets the store backing full accounts.
func (b *Builder) WithAccountStore(store PrincipalStore) *Builder {
	b.accounts = store
	return b
}

// WithMemberStore sets the store backing household members.
func (b *Builder) WithMemberStore(store MemberStore) *Builder {
	b.members = store
	return b
}

// WithAuditSink sets the destination for audit events. Without one, events
// are dispatched to a NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.metricsEnabled = enabled
	return b
}

// Build validates the configuration, constructs every subsystem, and starts
// the audit dispatcher.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.members == nil {
		return nil, errors.New("member store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.hasherConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := token.NewManager(cfg.tokenConfig())
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	b.built = true

	return &Engine{
		config:   cfg,
		accounts: b.accounts,
		members:  b.members,
		resolver: NewResolver(b.accounts, b.members),
		hasher:   hasher,
		totp:     totp.NewEngine(cfg.totpConfig()),
		tokens:   tokens,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(b.metricsEnabled),
	}, nil
}
