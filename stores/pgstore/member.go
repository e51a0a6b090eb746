package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feastbook/authcore"
)

// MemberStore adds the member-only login toggle on top of Store.
type MemberStore struct {
	*Store
}

// NewMemberStore returns the member-variant store on pool.
func NewMemberStore(pool *pgxpool.Pool) *MemberStore {
	return &MemberStore{Store: newMemberBase(pool)}
}

// SetLoginEnabled flips the login capability. Disabling wipes every
// credential-relevant column in the same statement.
func (s *MemberStore) SetLoginEnabled(ctx context.Context, id string, enabled bool) error {
	if enabled {
		return s.exec(ctx, `UPDATE principals SET login_enabled = TRUE WHERE id = $1 AND variant = $2`, id)
	}
	q := `UPDATE principals
		SET login_enabled = FALSE,
		    password_hash = '', master_password_hash = '',
		    twofactor_secret = '', twofactor_enabled = FALSE, twofactor_setup_done = FALSE,
		    backup_code_hashes = '{}'
		WHERE id = $1 AND variant = $2`
	return s.exec(ctx, q, id)
}

var _ authcore.MemberStore = (*MemberStore)(nil)
var _ authcore.PrincipalStore = (*Store)(nil)
