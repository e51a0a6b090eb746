package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestUpdatePasswordRequiresCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	if err := env.engine.UpdatePassword(ctx, env.loadAccount(t, id), "wrong", "new-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.UpdatePassword(ctx, env.loadAccount(t, id), "correct-horse-battery", "new-password-123"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "new-password-123"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestSetMasterPasswordRejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedAccount(t, "plain", "plain-password-1", RoleUser)
	if err := env.engine.SetMasterPassword(ctx, userID, "plain-password-1", "master-pw-12345"); !errors.Is(err, ErrMasterPasswordNotAllowed) {
		t.Fatalf("expected ErrMasterPasswordNotAllowed, got %v", err)
	}

	// Admin members are household admins, not system admins: the member
	// store is never consulted for master passwords.
	memberID := env.seedMember(t, "kid", "kid-password-12", userID, true)
	if err := env.members.update(memberID, func(p *Principal) error {
		p.Role = RoleAdmin
		return nil
	}); err != nil {
		t.Fatalf("promote member failed: %v", err)
	}
	if err := env.engine.SetMasterPassword(ctx, memberID, "kid-password-12", "master-pw-12345"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for member id, got %v", err)
	}
}

func TestSetRoleDemotionClearsMasterPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	adminID := env.seedAccount(t, "admin", "admin-password-1", RoleAdmin)
	if err := env.engine.SetMasterPassword(ctx, adminID, "admin-password-1", "family-master-pw"); err != nil {
		t.Fatalf("SetMasterPassword failed: %v", err)
	}

	if err := env.engine.SetRole(ctx, VariantAccount, adminID, RoleUser); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}

	stored := env.loadAccount(t, adminID)
	if stored.Role != RoleUser {
		t.Fatalf("expected user role, got %s", stored.Role)
	}
	if stored.MasterPasswordHash != "" {
		t.Fatal("demotion must clear the master password hash")
	}

	if _, err := env.engine.Login(ctx, "admin", "family-master-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("master password survived demotion: %v", err)
	}
}

func TestSetRoleRejectsUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedAccount(t, "alice", "correct-horse-battery", RoleUser)

	if err := env.engine.SetRole(context.Background(), VariantAccount, id, Role("owner")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSetMemberLoginAccessClearsCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	accountID := env.seedAccount(t, "parent", "parent-password-1", RoleAdmin)
	memberID := env.seedMember(t, "bob", "bobs-password-12", accountID, true)

	if _, err := env.engine.Login(ctx, "bob", "bobs-password-12"); err != nil {
		t.Fatalf("member login failed: %v", err)
	}

	if err := env.engine.SetMemberLoginAccess(ctx, memberID, false); err != nil {
		t.Fatalf("SetMemberLoginAccess failed: %v", err)
	}

	stored, err := env.members.FindByID(ctx, memberID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.PasswordHash != "" || stored.TwoFactorSecret != "" || len(stored.BackupCodeHashes) != 0 {
		t.Fatalf("expected cleared credentials, got %+v", stored)
	}

	if _, err := env.engine.Login(ctx, "bob", "bobs-password-12"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("disabled member still logs in: %v", err)
	}
}

func TestCheckUsernameAcrossStores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	accountID := env.seedAccount(t, "carol", "carols-password1", RoleUser)
	env.seedMember(t, "kid", "kid-password-12", accountID, true)

	cases := []struct {
		name      string
		username  string
		excludeID string
		want      bool
	}{
		{"free name", "newname", "", true},
		{"taken by account", "carol", "", false},
		{"taken by member", "kid", "", false},
		{"own name excluded", "carol", accountID, true},
		{"other principal excluded", "kid", accountID, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := env.engine.CheckUsername(ctx, tc.username, tc.excludeID)
			if err != nil {
				t.Fatalf("CheckUsername failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("CheckUsername(%q, %q) = %v, want %v", tc.username, tc.excludeID, got, tc.want)
			}
		})
	}
}

func TestCheckUsernameEmptyIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CheckUsername(context.Background(), "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
