package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory PrincipalStore with the same atomicity contract
// as the real backends: every mutation runs under one lock.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Principal
	variant Variant
}

func newMemStore(variant Variant) *memStore {
	return &memStore{
		records: make(map[string]*Principal),
		variant: variant,
	}
}

func (s *memStore) clone(p *Principal) *Principal {
	cp := *p
	cp.BackupCodeHashes = append([]string(nil), p.BackupCodeHashes...)
	return &cp
}

func (s *memStore) FindByUsername(_ context.Context, username string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.records {
		if p.Username == username {
			return s.clone(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (s *memStore) FindByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.records[id]; ok {
		return s.clone(p), nil
	}
	return nil, ErrPrincipalNotFound
}

func (s *memStore) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.Username == p.Username {
			return ErrUsernameTaken
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Variant = s.variant
	s.records[p.ID] = s.clone(p)
	return nil
}

func (s *memStore) update(id string, fn func(p *Principal) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	return fn(p)
}

func (s *memStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(p *Principal) error {
		p.PasswordHash = hash
		return nil
	})
}

func (s *memStore) UpdateMasterPasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(p *Principal) error {
		p.MasterPasswordHash = hash
		return nil
	})
}

func (s *memStore) UpdateRole(_ context.Context, id string, role Role) error {
	return s.update(id, func(p *Principal) error {
		p.Role = role
		if role != RoleAdmin {
			p.MasterPasswordHash = ""
		}
		return nil
	})
}

func (s *memStore) SetPendingTwoFactorSecret(_ context.Context, id, secret string) error {
	return s.update(id, func(p *Principal) error {
		p.TwoFactorSecret = secret
		p.TwoFactorSetupDone = false
		return nil
	})
}

func (s *memStore) EnableTwoFactor(_ context.Context, id string, hashes []string) error {
	return s.update(id, func(p *Principal) error {
		p.TwoFactorEnabled = true
		p.TwoFactorSetupDone = true
		p.BackupCodeHashes = append([]string(nil), hashes...)
		return nil
	})
}

func (s *memStore) DisableTwoFactor(_ context.Context, id string) error {
	return s.update(id, func(p *Principal) error {
		p.TwoFactorSecret = ""
		p.TwoFactorEnabled = false
		p.TwoFactorSetupDone = false
		p.BackupCodeHashes = nil
		return nil
	})
}

func (s *memStore) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	return s.update(id, func(p *Principal) error {
		p.BackupCodeHashes = append([]string(nil), hashes...)
		return nil
	})
}

func (s *memStore) RemoveBackupCode(_ context.Context, id, hash string) (bool, error) {
	removed := false
	err := s.update(id, func(p *Principal) error {
		for i, h := range p.BackupCodeHashes {
			if h == hash {
				p.BackupCodeHashes = append(p.BackupCodeHashes[:i], p.BackupCodeHashes[i+1:]...)
				removed = true
				break
			}
		}
		return nil
	})
	return removed, err
}

func (s *memStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(p *Principal) error {
		p.LastLogin = at
		return nil
	})
}

type memMemberStore struct {
	*memStore
}

func newMemMemberStore() *memMemberStore {
	return &memMemberStore{memStore: newMemStore(VariantMember)}
}

func (s *memMemberStore) SetLoginEnabled(_ context.Context, id string, enabled bool) error {
	return s.update(id, func(p *Principal) error {
		p.LoginEnabled = enabled
		if !enabled {
			p.PasswordHash = ""
			p.TwoFactorSecret = ""
			p.TwoFactorEnabled = false
			p.TwoFactorSetupDone = false
			p.BackupCodeHashes = nil
		}
		return nil
	})
}

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.SessionTTL = time.Hour
	cfg.Token.TemporaryTTL = 2 * time.Minute
	// Weak parameters keep the hashing-heavy tests fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testEnv struct {
	engine   *Engine
	accounts *memStore
	members  *memMemberStore
	sink     *ChannelSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accounts := newMemStore(VariantAccount)
	members := newMemMemberStore()
	sink := NewChannelSink(64)

	engine, err := New().
		WithConfig(engineTestConfig()).
		WithAccountStore(accounts).
		WithMemberStore(members).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine:   engine,
		accounts: accounts,
		members:  members,
		sink:     sink,
	}
}

func (env *testEnv) mustHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := env.engine.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return hash
}

// seedAccount stores an active account with the given password and returns
// its id.
func (env *testEnv) seedAccount(t *testing.T, username, password string, role Role) string {
	t.Helper()
	p := &Principal{
		Username:     username,
		DisplayName:  username,
		Role:         role,
		Active:       true,
		LoginEnabled: true,
		PasswordHash: env.mustHash(t, password),
	}
	if err := env.accounts.Create(context.Background(), p); err != nil {
		t.Fatalf("Create account failed: %v", err)
	}
	return p.ID
}

func (env *testEnv) seedMember(t *testing.T, username, password, createdBy string, loginEnabled bool) string {
	t.Helper()
	p := &Principal{
		Username:     username,
		DisplayName:  username,
		Role:         RoleUser,
		Active:       true,
		LoginEnabled: loginEnabled,
		CreatedBy:    createdBy,
	}
	if loginEnabled {
		p.PasswordHash = env.mustHash(t, password)
	}
	if err := env.members.Create(context.Background(), p); err != nil {
		t.Fatalf("Create member failed: %v", err)
	}
	return p.ID
}

// loadAccount reloads a principal for mutation-style engine calls that take
// an authorized *Principal.
func (env *testEnv) loadAccount(t *testing.T, id string) *Principal {
	t.Helper()
	p, err := env.accounts.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	return p
}
