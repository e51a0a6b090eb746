// Package pgstore persists principals in PostgreSQL through a pgx pool.
// Accounts and members share one table partitioned by a variant column;
// backup codes sit in a text array consumed with a conditional array_remove.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feastbook/authcore"
)

// Schema is the DDL the store expects. Applied by the operator or a
// migration step, never by the store itself.
const Schema = `
CREATE TABLE IF NOT EXISTS principals (
    id                   TEXT PRIMARY KEY,
    variant              TEXT NOT NULL CHECK (variant IN ('account', 'member')),
    username             TEXT NOT NULL UNIQUE,
    display_name         TEXT NOT NULL DEFAULT '',
    role                 TEXT NOT NULL DEFAULT 'user',
    active               BOOLEAN NOT NULL DEFAULT TRUE,
    login_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
    created_by           TEXT NOT NULL DEFAULT '',
    password_hash        TEXT NOT NULL DEFAULT '',
    master_password_hash TEXT NOT NULL DEFAULT '',
    twofactor_secret     TEXT NOT NULL DEFAULT '',
    twofactor_enabled    BOOLEAN NOT NULL DEFAULT FALSE,
    twofactor_setup_done BOOLEAN NOT NULL DEFAULT FALSE,
    backup_code_hashes   TEXT[] NOT NULL DEFAULT '{}',
    last_login           TIMESTAMPTZ
);
`

const selectColumns = `id, variant, username, display_name, role, active, login_enabled,
	created_by, password_hash, master_password_hash,
	twofactor_secret, twofactor_enabled, twofactor_setup_done,
	backup_code_hashes, last_login`

// Store is a PrincipalStore over the shared principals table, scoped to one
// variant.
type Store struct {
	pool    *pgxpool.Pool
	variant authcore.Variant
}

// NewAccountStore returns the account-variant store on pool.
func NewAccountStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, variant: authcore.VariantAccount}
}

func newMemberBase(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, variant: authcore.VariantMember}
}

func (s *Store) Create(ctx context.Context, p *authcore.Principal) error {
	if p.ID == "" {
		return fmt.Errorf("pgstore: principal id required")
	}
	p.Variant = s.variant

	q := `INSERT INTO principals
		(id, variant, username, display_name, role, active, login_enabled, created_by,
		 password_hash, master_password_hash,
		 twofactor_secret, twofactor_enabled, twofactor_setup_done, backup_code_hashes, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	var lastLogin *time.Time
	if !p.LastLogin.IsZero() {
		t := p.LastLogin.UTC()
		lastLogin = &t
	}

	_, err := s.pool.Exec(ctx, q,
		p.ID, string(p.Variant), p.Username, p.DisplayName, string(p.Role),
		p.Active, p.LoginEnabled, p.CreatedBy,
		p.PasswordHash, p.MasterPasswordHash,
		p.TwoFactorSecret, p.TwoFactorEnabled, p.TwoFactorSetupDone,
		p.BackupCodeHashes, lastLogin,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return authcore.ErrUsernameTaken
		}
		return fmt.Errorf("pgstore: create: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*authcore.Principal, error) {
	q := `SELECT ` + selectColumns + ` FROM principals WHERE id = $1 AND variant = $2`
	return s.scanOne(s.pool.QueryRow(ctx, q, id, string(s.variant)))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*authcore.Principal, error) {
	q := `SELECT ` + selectColumns + ` FROM principals WHERE username = $1 AND variant = $2`
	return s.scanOne(s.pool.QueryRow(ctx, q, username, string(s.variant)))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, `UPDATE principals SET password_hash = $2 WHERE id = $1 AND variant = $3`, id, hash)
}

func (s *Store) UpdateMasterPasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, `UPDATE principals SET master_password_hash = $2 WHERE id = $1 AND variant = $3`, id, hash)
}

// UpdateRole clears the master hash in the same statement when the new role
// is not admin, so no reader ever sees the forbidden combination.
func (s *Store) UpdateRole(ctx context.Context, id string, role authcore.Role) error {
	q := `UPDATE principals
		SET role = $2,
		    master_password_hash = CASE WHEN $2 = 'admin' THEN master_password_hash ELSE '' END
		WHERE id = $1 AND variant = $3`
	return s.exec(ctx, q, id, string(role))
}

func (s *Store) SetPendingTwoFactorSecret(ctx context.Context, id, secret string) error {
	q := `UPDATE principals SET twofactor_secret = $2, twofactor_setup_done = FALSE
		WHERE id = $1 AND variant = $3`
	return s.exec(ctx, q, id, secret)
}

func (s *Store) EnableTwoFactor(ctx context.Context, id string, backupCodeHashes []string) error {
	q := `UPDATE principals
		SET twofactor_enabled = TRUE, twofactor_setup_done = TRUE, backup_code_hashes = $2
		WHERE id = $1 AND variant = $3`
	return s.exec(ctx, q, id, backupCodeHashes)
}

func (s *Store) DisableTwoFactor(ctx context.Context, id string) error {
	q := `UPDATE principals
		SET twofactor_secret = '', twofactor_enabled = FALSE, twofactor_setup_done = FALSE,
		    backup_code_hashes = '{}'
		WHERE id = $1 AND variant = $2`
	return s.exec(ctx, q, id)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error {
	q := `UPDATE principals SET backup_code_hashes = $2 WHERE id = $1 AND variant = $3`
	return s.exec(ctx, q, id, hashes)
}

// RemoveBackupCode removes the matched element only when it is still
// present; the WHERE guard makes the update a no-op for the losing racer, so
// the rows-affected count is the single-use arbiter.
func (s *Store) RemoveBackupCode(ctx context.Context, id, hash string) (bool, error) {
	q := `UPDATE principals
		SET backup_code_hashes = array_remove(backup_code_hashes, $2)
		WHERE id = $1 AND variant = $3 AND $2 = ANY(backup_code_hashes)`
	tag, err := s.pool.Exec(ctx, q, id, hash, string(s.variant))
	if err != nil {
		return false, fmt.Errorf("pgstore: remove backup code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE principals SET last_login = $2 WHERE id = $1 AND variant = $3`, id, at.UTC())
}

func (s *Store) exec(ctx context.Context, q string, id string, args ...interface{}) error {
	all := append([]interface{}{id}, args...)
	all = append(all, string(s.variant))
	tag, err := s.pool.Exec(ctx, q, all...)
	if err != nil {
		return fmt.Errorf("pgstore: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (*authcore.Principal, error) {
	p := &authcore.Principal{}
	var variant, role string
	var lastLogin *time.Time

	err := row.Scan(
		&p.ID, &variant, &p.Username, &p.DisplayName, &role,
		&p.Active, &p.LoginEnabled, &p.CreatedBy,
		&p.PasswordHash, &p.MasterPasswordHash,
		&p.TwoFactorSecret, &p.TwoFactorEnabled, &p.TwoFactorSetupDone,
		&p.BackupCodeHashes, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("pgstore: scan: %w", err)
	}

	p.Variant = authcore.Variant(variant)
	p.Role = authcore.Role(role)
	if lastLogin != nil {
		p.LastLogin = *lastLogin
	}
	return p, nil
}
