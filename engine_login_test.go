package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
)

func codeForSecret(t *testing.T, secret string) string {
	t.Helper()
	code, err := ptotp.GenerateCodeCustom(secret, time.Now(), ptotp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// enableTwoFactor walks the full setup flow for an account and returns the
// confirmed secret plus the plaintext backup codes.
func enableTwoFactor(t *testing.T, env *testEnv, id, password string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	p := env.loadAccount(t, id)
	setup, err := env.engine.BeginTwoFactorSetup(ctx, p, password)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}

	p = env.loadAccount(t, id)
	codes, err := env.engine.ConfirmTwoFactorSetup(ctx, p, codeForSecret(t, setup.Secret))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorSetup failed: %v", err)
	}
	return setup.Secret, codes
}

func TestLoginIssuesSessionToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	result, err := env.engine.Login(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.RequiresTwoFactor {
		t.Fatal("unexpected second-factor challenge")
	}
	if result.Token == "" || result.TemporaryToken != "" {
		t.Fatalf("expected session token only, got %+v", result)
	}
	if result.Principal == nil || result.Principal.Username != "alice" {
		t.Fatalf("expected principal identity, got %+v", result.Principal)
	}

	auth, err := env.engine.Authorize(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("Authorize rejected a fresh session token: %v", err)
	}
	if auth.Principal.Username != "alice" {
		t.Fatalf("authorized wrong principal: %s", auth.Principal.Username)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	inactiveID := env.seedAccount(t, "inactive", "some-password-1", RoleUser)
	if err := env.accounts.update(inactiveID, func(p *Principal) error {
		p.Active = false
		return nil
	}); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	env.seedMember(t, "bob", "bobs-password-12", "x", false)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "nobody", "whatever-pass"},
		{"wrong password", "alice", "wrong-password"},
		{"inactive principal", "inactive", "some-password-1"},
		{"login-disabled member", "bob", "bobs-password-12"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Login(context.Background(), tc.username, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLoginMasterPasswordAdminAccountOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	adminID := env.seedAccount(t, "admin", "admin-password-1", RoleAdmin)
	if err := env.engine.SetMasterPassword(ctx, adminID, "admin-password-1", "family-master-pw"); err != nil {
		t.Fatalf("SetMasterPassword failed: %v", err)
	}

	result, err := env.engine.Login(ctx, "admin", "family-master-pw")
	if err != nil {
		t.Fatalf("master-password login failed: %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected session token from master-password login")
	}

	// The same secret never works for a non-admin, even if a stale hash
	// somehow survived.
	userID := env.seedAccount(t, "plain", "plain-password-1", RoleUser)
	hash := env.mustHash(t, "family-master-pw")
	if err := env.accounts.update(userID, func(p *Principal) error {
		p.MasterPasswordHash = hash
		return nil
	}); err != nil {
		t.Fatalf("seed stale hash failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "plain", "family-master-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for non-admin master login, got %v", err)
	}
}

func TestLoginWithTwoFactorWithholdsSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)
	enableTwoFactor(t, env, id, "correct-horse-battery")

	result, err := env.engine.Login(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Fatal("expected second-factor challenge")
	}
	if result.Token != "" || result.Principal != nil {
		t.Fatalf("session material leaked before second factor: %+v", result)
	}
	if result.TemporaryToken == "" {
		t.Fatal("expected temporary token")
	}

	// The temporary token must never pass the gate.
	if _, err := env.engine.Authorize(context.Background(), result.TemporaryToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid at the gate, got %v", err)
	}
}

func TestVerifySecondFactorWithTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)
	secret, _ := enableTwoFactor(t, env, id, "correct-horse-battery")

	result, err := env.engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	final, err := env.engine.VerifySecondFactor(ctx, result.TemporaryToken, codeForSecret(t, secret), MethodTOTP)
	if err != nil {
		t.Fatalf("VerifySecondFactor failed: %v", err)
	}
	if final.Token == "" || final.Principal == nil {
		t.Fatalf("expected full session, got %+v", final)
	}
	if _, err := env.engine.Authorize(ctx, final.Token); err != nil {
		t.Fatalf("Authorize rejected the post-2FA session: %v", err)
	}
}

func TestVerifySecondFactorWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)
	enableTwoFactor(t, env, id, "correct-horse-battery")

	result, err := env.engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := env.engine.VerifySecondFactor(ctx, result.TemporaryToken, "000000", MethodTOTP); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected ErrInvalidSecondFactor, got %v", err)
	}
}

func TestVerifySecondFactorBackupCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)
	_, codes := enableTwoFactor(t, env, id, "correct-horse-battery")
	if len(codes) != 8 {
		t.Fatalf("expected 8 backup codes, got %d", len(codes))
	}

	login := func() string {
		result, err := env.engine.Login(ctx, "alice", "correct-horse-battery")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		return result.TemporaryToken
	}

	if _, err := env.engine.VerifySecondFactor(ctx, login(), codes[0], MethodBackupCode); err != nil {
		t.Fatalf("first backup-code use failed: %v", err)
	}

	// Same code again: consumed.
	if _, err := env.engine.VerifySecondFactor(ctx, login(), codes[0], MethodBackupCode); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected consumed code to fail, got %v", err)
	}

	// A different code from the same batch still works.
	if _, err := env.engine.VerifySecondFactor(ctx, login(), codes[1], MethodBackupCode); err != nil {
		t.Fatalf("second backup code failed: %v", err)
	}
}

func TestVerifySecondFactorRejectsSessionToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)
	secret, _ := enableTwoFactor(t, env, id, "correct-horse-battery")

	result, err := env.engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	final, err := env.engine.VerifySecondFactor(ctx, result.TemporaryToken, codeForSecret(t, secret), MethodTOTP)
	if err != nil {
		t.Fatalf("VerifySecondFactor failed: %v", err)
	}

	// A full session token is the wrong purpose here.
	if _, err := env.engine.VerifySecondFactor(ctx, final.Token, codeForSecret(t, secret), MethodTOTP); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for session token, got %v", err)
	}
}

func TestVerifySecondFactorExpiredTemporaryToken(t *testing.T) {
	accounts := newMemStore(VariantAccount)
	members := newMemMemberStore()

	cfg := engineTestConfig()
	cfg.Token.TemporaryTTL = time.Nanosecond
	cfg.Token.Leeway = 0

	engine, err := New().
		WithConfig(cfg).
		WithAccountStore(accounts).
		WithMemberStore(members).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	p := &Principal{Username: "alice", Active: true, LoginEnabled: true, Role: RoleUser, PasswordHash: hash}
	if err := accounts.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	enableTwoFactorDirect(t, engine, accounts, p.ID)

	result, err := engine.Login(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := engine.VerifySecondFactor(context.Background(), result.TemporaryToken, "000000", MethodTOTP); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired temp token, got %v", err)
	}
}

// enableTwoFactorDirect installs a confirmed secret without walking the
// setup flow, for tests that build their own engine.
func enableTwoFactorDirect(t *testing.T, engine *Engine, store *memStore, id string) string {
	t.Helper()
	setup, err := engine.totp.GenerateSecret("alice")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if err := store.update(id, func(p *Principal) error {
		p.TwoFactorSecret = setup.Secret
		p.TwoFactorEnabled = true
		p.TwoFactorSetupDone = true
		return nil
	}); err != nil {
		t.Fatalf("install secret failed: %v", err)
	}
	return setup.Secret
}

func TestLoginTouchesLastLogin(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	before := time.Now().Add(-time.Second)
	if _, err := env.engine.Login(context.Background(), "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The touch is asynchronous, poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p := env.loadAccount(t, id)
		if p.LastLogin.After(before) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("LastLogin was never touched")
}

func TestSecondFactorLoginRecordsMasterCredential(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleAdmin)
	ctx := context.Background()

	if err := env.engine.SetMasterPassword(ctx, id, "correct-horse-battery", "master-passphrase-9"); err != nil {
		t.Fatalf("SetMasterPassword failed: %v", err)
	}
	secret := enableTwoFactorDirect(t, env.engine, env.accounts, id)

	result, err := env.engine.Login(ctx, "alice", "master-passphrase-9")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.RequiresTwoFactor {
		t.Fatal("expected second-factor challenge")
	}
	if _, err := env.engine.VerifySecondFactor(ctx, result.TemporaryToken, codeForSecret(t, secret), MethodTOTP); err != nil {
		t.Fatalf("VerifySecondFactor failed: %v", err)
	}

	// The success event must name the credential from the first step, not
	// default to primary.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-env.sink.Events():
			if event.EventType != auditEventLoginSuccess {
				continue
			}
			if got := event.Metadata["credential"]; got != string(CredentialMaster) {
				t.Fatalf("expected master credential recorded, got %q", got)
			}
			return
		case <-deadline:
			t.Fatal("login_success event never arrived")
		}
	}
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := env.engine.Login(ctx, "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	select {
	case event := <-env.sink.Events():
		if event.EventType != auditEventLoginSuccess {
			t.Fatalf("expected login_success, got %s", event.EventType)
		}
		if event.IP != "203.0.113.7" {
			t.Fatalf("expected client IP in event, got %q", event.IP)
		}
		if event.Username != "alice" {
			t.Fatalf("expected username in event, got %q", event.Username)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event dispatched")
	}
}
