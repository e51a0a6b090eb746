package authcore

import (
	"context"
	"time"
)

// Variant tags which principal store a record lives in. Tokens embed the tag
// so the gate can reload the record from the right store.
type Variant string

const (
	// VariantAccount is a top-level principal that owns family members.
	VariantAccount Variant = "account"
	// VariantMember is a delegated principal created under an account. It
	// may exist as a pure profile record with no login capability.
	VariantMember Variant = "member"
)

// Role is the coarse authorization level carried by every principal.
type Role string

const (
	// RoleAdmin grants administrative rights within the principal's scope.
	RoleAdmin Role = "admin"
	// RoleUser is the default role.
	RoleUser Role = "user"
)

// Principal is the uniform capability view over both variants. Both stores
// return the same struct; variant-specific fields are zero for the other
// variant (CreatedBy on accounts, MasterPasswordHash on members).
type Principal struct {
	ID          string
	Variant     Variant
	Username    string
	DisplayName string
	Role        Role
	Active      bool

	// LoginEnabled gates member authentication independently of credential
	// correctness. Accounts always report true.
	LoginEnabled bool

	// CreatedBy is the id of the account or admin member that created a
	// member record. Empty for accounts.
	CreatedBy string

	PasswordHash string

	// MasterPasswordHash is the optional secondary credential. Only
	// admin-role accounts may hold one; it is cleared on demotion.
	MasterPasswordHash string

	TwoFactorSecret    string
	TwoFactorEnabled   bool
	TwoFactorSetupDone bool
	BackupCodeHashes   []string

	LastLogin time.Time
}

// CanLogin reports whether the principal may authenticate at all,
// independent of any credential check.
func (p *Principal) CanLogin() bool {
	if p == nil || !p.Active {
		return false
	}
	if p.Variant == VariantMember && !p.LoginEnabled {
		return false
	}
	return true
}

// Identity is the public, credential-free projection of a principal returned
// to clients after a successful login.
type Identity struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	Role        Role    `json:"role"`
	Variant     Variant `json:"variant"`
}

// IdentityOf builds the public projection of p.
func IdentityOf(p *Principal) Identity {
	return Identity{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Variant:     p.Variant,
	}
}

// CredentialKind reports which stored credential matched during login.
type CredentialKind string

const (
	// CredentialPrimary is the principal's own password.
	CredentialPrimary CredentialKind = "primary"
	// CredentialMaster is the admin-only secondary password.
	CredentialMaster CredentialKind = "master"
)

// PrincipalStore is implemented by both variant stores. Lookups return
// ErrPrincipalNotFound on a miss; every mutation addresses a single record
// and must be atomic with respect to concurrent mutations of the same
// record.
type PrincipalStore interface {
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	Create(ctx context.Context, p *Principal) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	// UpdateMasterPasswordHash sets or clears the secondary credential. An
	// empty hash clears it.
	UpdateMasterPasswordHash(ctx context.Context, id, hash string) error
	// UpdateRole changes the role and, when the new role is not admin,
	// clears the master password hash in the same operation.
	UpdateRole(ctx context.Context, id string, role Role) error

	// SetPendingTwoFactorSecret stores an unconfirmed secret, replacing any
	// previous pending one, without touching the enabled flags.
	SetPendingTwoFactorSecret(ctx context.Context, id, secret string) error
	// EnableTwoFactor marks the pending secret confirmed and installs the
	// initial backup code hashes.
	EnableTwoFactor(ctx context.Context, id string, backupCodeHashes []string) error
	// DisableTwoFactor clears the secret, both flags, and all backup codes.
	DisableTwoFactor(ctx context.Context, id string) error

	ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error
	// RemoveBackupCode removes exactly the given hash element if present and
	// reports whether it removed it. This is the atomic remove-if-present
	// primitive that keeps a backup code single-use under concurrent
	// requests; implementations must not read-then-write.
	RemoveBackupCode(ctx context.Context, id, hash string) (bool, error)

	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// MemberStore extends PrincipalStore with the member-only login toggle.
type MemberStore interface {
	PrincipalStore

	// SetLoginEnabled flips the login capability. Disabling clears the
	// credential-relevant fields (password hash, two-factor state, backup
	// codes) so a later re-enable starts clean.
	SetLoginEnabled(ctx context.Context, id string, enabled bool) error
}
