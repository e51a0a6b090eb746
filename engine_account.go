package authcore

import (
	"context"
	"errors"
)

// HashPassword produces a storable hash with the engine's configured
// parameters. Provisioning code uses it to seed principals; the engine never
// accepts a plaintext password through a store.
func (e *Engine) HashPassword(secret string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(secret)
}

// UpdatePassword changes a principal's primary password after re-verifying
// the current one. The explicit service call is the only write path for the
// hash; stores never hash.
func (e *Engine) UpdatePassword(ctx context.Context, p *Principal, current, next string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if p == nil {
		return ErrUnauthorized
	}
	if next == "" {
		return ErrValidation
	}

	if !e.hasher.Verify(current, p.PasswordHash) {
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, p, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.storeFor(p.Variant).UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		return wrapStoreErr(err)
	}
	p.PasswordHash = hash

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, p, "", nil, nil)
	return nil
}

// SetMasterPassword installs or rotates the secondary credential on an
// admin-role account after re-verifying the primary password. Any other
// principal, admin members included, gets ErrMasterPasswordNotAllowed.
func (e *Engine) SetMasterPassword(ctx context.Context, accountID, current, master string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if master == "" {
		return ErrValidation
	}

	p, err := e.resolver.ResolveByID(ctx, VariantAccount, accountID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if p.Role != RoleAdmin {
		e.emitAudit(ctx, auditEventMasterPasswordSet, false, p, "", ErrMasterPasswordNotAllowed, nil)
		return ErrMasterPasswordNotAllowed
	}

	if !e.hasher.Verify(current, p.PasswordHash) {
		e.emitAudit(ctx, auditEventMasterPasswordSet, false, p, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(master)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdateMasterPasswordHash(ctx, p.ID, hash); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventMasterPasswordSet, true, p, "", nil, nil)
	return nil
}

// SetRole changes a principal's role. Demoting an admin clears the master
// password hash inside the same store operation, so no observable state ever
// pairs a non-admin role with a master credential.
func (e *Engine) SetRole(ctx context.Context, variant Variant, id string, role Role) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if role != RoleAdmin && role != RoleUser {
		return ErrValidation
	}

	p, err := e.resolver.ResolveByID(ctx, variant, id)
	if err != nil {
		return err
	}

	if err := e.storeFor(variant).UpdateRole(ctx, id, role); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventRoleChanged, true, p, "", nil, func() map[string]string {
		m := map[string]string{"role": string(role)}
		if p.Role == RoleAdmin && role != RoleAdmin {
			m["master_password"] = "cleared"
		}
		return m
	})
	if p.Role == RoleAdmin && role != RoleAdmin && p.MasterPasswordHash != "" {
		e.emitAudit(ctx, auditEventMasterPasswordCleared, true, p, "", nil, nil)
	}
	return nil
}

// SetMemberLoginAccess flips a member's login capability. Disabling clears
// the stored credential state, so re-enabling later starts from a clean
// slate with no password and no second factor.
func (e *Engine) SetMemberLoginAccess(ctx context.Context, memberID string, enabled bool) error {
	if e == nil {
		return ErrEngineNotReady
	}

	p, err := e.resolver.ResolveByID(ctx, VariantMember, memberID)
	if err != nil {
		return err
	}

	if err := e.members.SetLoginEnabled(ctx, memberID, enabled); err != nil {
		return wrapStoreErr(err)
	}

	e.emitAudit(ctx, auditEventLoginAccessChanged, true, p, "", nil, func() map[string]string {
		if enabled {
			return map[string]string{"login": "enabled"}
		}
		return map[string]string{"login": "disabled", "credentials": "cleared"}
	})
	return nil
}

// CheckUsername probes username availability across both stores. excludeID
// lets a principal keep its own name during a profile edit.
func (e *Engine) CheckUsername(ctx context.Context, username, excludeID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if username == "" {
		return false, ErrValidation
	}
	return e.resolver.UsernameAvailable(ctx, username, excludeID)
}
