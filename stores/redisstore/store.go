// Package redisstore persists principals in Redis. Each record is a hash,
// usernames are indexed through plain keys claimed with SETNX, and backup
// code hashes live in a set so consumption is a single SREM.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feastbook/authcore"
)

const (
	fieldID                 = "id"
	fieldUsername           = "username"
	fieldDisplayName        = "display_name"
	fieldRole               = "role"
	fieldActive             = "active"
	fieldLoginEnabled       = "login_enabled"
	fieldCreatedBy          = "created_by"
	fieldPasswordHash       = "password_hash"
	fieldMasterPasswordHash = "master_password_hash"
	fieldTwoFactorSecret    = "twofactor_secret"
	fieldTwoFactorEnabled   = "twofactor_enabled"
	fieldTwoFactorSetupDone = "twofactor_setup_done"
	fieldLastLogin          = "last_login"
)

// updateRoleScript keeps the role change and the conditional master-password
// wipe in one atomic step.
var updateRoleScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "role", ARGV[1])
if ARGV[1] ~= "admin" then
  redis.call("HDEL", KEYS[1], "master_password_hash")
end
return 1
`)

// Store is a PrincipalStore backed by Redis. The key prefix separates the
// account and member namespaces on a shared database.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	variant authcore.Variant
}

// NewAccountStore returns the account-variant store on client.
func NewAccountStore(client redis.UniversalClient) *Store {
	return &Store{client: client, prefix: "acct", variant: authcore.VariantAccount}
}

func newMemberBase(client redis.UniversalClient) *Store {
	return &Store{client: client, prefix: "memb", variant: authcore.VariantMember}
}

func (s *Store) recordKey(id string) string {
	return s.prefix + ":p:" + id
}

// usernameKey is deliberately unprefixed: accounts and members contend on
// the same claim key, which is what keeps usernames unique across both
// variants. The claim value records which namespace owns the name.
func (s *Store) usernameKey(username string) string {
	return "u:" + username
}

func (s *Store) backupKey(id string) string {
	return s.prefix + ":bc:" + id
}

// Create claims the username with SETNX and writes the record. The username
// claim is the uniqueness guard; a lost claim returns ErrUsernameTaken
// without touching anything else.
func (s *Store) Create(ctx context.Context, p *authcore.Principal) error {
	if p.ID == "" {
		return fmt.Errorf("redisstore: principal id required")
	}
	p.Variant = s.variant

	claimed, err := s.client.SetNX(ctx, s.usernameKey(p.Username), s.prefix+":"+p.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("redisstore: claim username: %w", err)
	}
	if !claimed {
		return authcore.ErrUsernameTaken
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.recordKey(p.ID), s.recordFields(p))
	if len(p.BackupCodeHashes) > 0 {
		pipe.SAdd(ctx, s.backupKey(p.ID), toAnySlice(p.BackupCodeHashes)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the claim so the name is not burned by a failed write.
		s.client.Del(context.WithoutCancel(ctx), s.usernameKey(p.Username))
		return fmt.Errorf("redisstore: write record: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*authcore.Principal, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: read record: %w", err)
	}
	if len(fields) == 0 {
		return nil, authcore.ErrPrincipalNotFound
	}

	hashes, err := s.client.SMembers(ctx, s.backupKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisstore: read backup codes: %w", err)
	}

	p := s.decode(fields)
	p.BackupCodeHashes = hashes
	return p, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*authcore.Principal, error) {
	claim, err := s.client.Get(ctx, s.usernameKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, authcore.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: resolve username: %w", err)
	}

	// A claim held by the other variant is a miss for this store.
	prefix, id, ok := strings.Cut(claim, ":")
	if !ok || prefix != s.prefix {
		return nil, authcore.ErrPrincipalNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.setFields(ctx, id, map[string]interface{}{fieldPasswordHash: hash})
}

func (s *Store) UpdateMasterPasswordHash(ctx context.Context, id, hash string) error {
	if hash == "" {
		return s.withExisting(ctx, id, func() error {
			return s.client.HDel(ctx, s.recordKey(id), fieldMasterPasswordHash).Err()
		})
	}
	return s.setFields(ctx, id, map[string]interface{}{fieldMasterPasswordHash: hash})
}

func (s *Store) UpdateRole(ctx context.Context, id string, role authcore.Role) error {
	n, err := updateRoleScript.Run(ctx, s.client, []string{s.recordKey(id)}, string(role)).Int64()
	if err != nil {
		return fmt.Errorf("redisstore: update role: %w", err)
	}
	if n == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

func (s *Store) SetPendingTwoFactorSecret(ctx context.Context, id, secret string) error {
	return s.setFields(ctx, id, map[string]interface{}{
		fieldTwoFactorSecret:    secret,
		fieldTwoFactorSetupDone: "0",
	})
}

func (s *Store) EnableTwoFactor(ctx context.Context, id string, backupCodeHashes []string) error {
	return s.withExisting(ctx, id, func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.recordKey(id), map[string]interface{}{
			fieldTwoFactorEnabled:   "1",
			fieldTwoFactorSetupDone: "1",
		})
		pipe.Del(ctx, s.backupKey(id))
		if len(backupCodeHashes) > 0 {
			pipe.SAdd(ctx, s.backupKey(id), toAnySlice(backupCodeHashes)...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *Store) DisableTwoFactor(ctx context.Context, id string) error {
	return s.withExisting(ctx, id, func() error {
		pipe := s.client.TxPipeline()
		pipe.HDel(ctx, s.recordKey(id), fieldTwoFactorSecret)
		pipe.HSet(ctx, s.recordKey(id), map[string]interface{}{
			fieldTwoFactorEnabled:   "0",
			fieldTwoFactorSetupDone: "0",
		})
		pipe.Del(ctx, s.backupKey(id))
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error {
	return s.withExisting(ctx, id, func() error {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.backupKey(id))
		if len(hashes) > 0 {
			pipe.SAdd(ctx, s.backupKey(id), toAnySlice(hashes)...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// RemoveBackupCode is a single SREM: Redis guarantees that of two racing
// removals of the same member exactly one sees a non-zero reply.
func (s *Store) RemoveBackupCode(ctx context.Context, id, hash string) (bool, error) {
	n, err := s.client.SRem(ctx, s.backupKey(id), hash).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: remove backup code: %w", err)
	}
	return n > 0, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.setFields(ctx, id, map[string]interface{}{
		fieldLastLogin: at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Store) setFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.withExisting(ctx, id, func() error {
		return s.client.HSet(ctx, s.recordKey(id), fields).Err()
	})
}

// withExisting guards mutations so a write never materializes a phantom
// record for an id that was never created.
func (s *Store) withExisting(ctx context.Context, id string, fn func() error) error {
	exists, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: existence check: %w", err)
	}
	if exists == 0 {
		return authcore.ErrPrincipalNotFound
	}
	if err := fn(); err != nil {
		return fmt.Errorf("redisstore: write: %w", err)
	}
	return nil
}

func (s *Store) recordFields(p *authcore.Principal) map[string]interface{} {
	fields := map[string]interface{}{
		fieldID:                 p.ID,
		fieldUsername:           p.Username,
		fieldDisplayName:        p.DisplayName,
		fieldRole:               string(p.Role),
		fieldActive:             boolField(p.Active),
		fieldLoginEnabled:       boolField(p.LoginEnabled),
		fieldCreatedBy:          p.CreatedBy,
		fieldPasswordHash:       p.PasswordHash,
		fieldTwoFactorSecret:    p.TwoFactorSecret,
		fieldTwoFactorEnabled:   boolField(p.TwoFactorEnabled),
		fieldTwoFactorSetupDone: boolField(p.TwoFactorSetupDone),
	}
	if p.MasterPasswordHash != "" {
		fields[fieldMasterPasswordHash] = p.MasterPasswordHash
	}
	if !p.LastLogin.IsZero() {
		fields[fieldLastLogin] = p.LastLogin.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func (s *Store) decode(fields map[string]string) *authcore.Principal {
	p := &authcore.Principal{
		ID:                 fields[fieldID],
		Variant:            s.variant,
		Username:           fields[fieldUsername],
		DisplayName:        fields[fieldDisplayName],
		Role:               authcore.Role(fields[fieldRole]),
		Active:             fields[fieldActive] == "1",
		LoginEnabled:       fields[fieldLoginEnabled] == "1",
		CreatedBy:          fields[fieldCreatedBy],
		PasswordHash:       fields[fieldPasswordHash],
		MasterPasswordHash: fields[fieldMasterPasswordHash],
		TwoFactorSecret:    fields[fieldTwoFactorSecret],
		TwoFactorEnabled:   fields[fieldTwoFactorEnabled] == "1",
		TwoFactorSetupDone: fields[fieldTwoFactorSetupDone] == "1",
	}
	if raw := fields[fieldLastLogin]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			p.LastLogin = ts
		}
	}
	return p
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func toAnySlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
