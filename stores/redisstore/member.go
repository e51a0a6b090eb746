package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/feastbook/authcore"
)

// MemberStore adds the member-only login toggle on top of Store.
type MemberStore struct {
	*Store
}

// NewMemberStore returns the member-variant store on client.
func NewMemberStore(client redis.UniversalClient) *MemberStore {
	return &MemberStore{Store: newMemberBase(client)}
}

// SetLoginEnabled flips the login capability. Disabling wipes the password
// hash, the two-factor state, and every backup code in one transaction, so
// a later re-enable starts with no credentials at all.
func (s *MemberStore) SetLoginEnabled(ctx context.Context, id string, enabled bool) error {
	return s.withExisting(ctx, id, func() error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.recordKey(id), fieldLoginEnabled, boolField(enabled))
		if !enabled {
			pipe.HDel(ctx, s.recordKey(id),
				fieldPasswordHash,
				fieldMasterPasswordHash,
				fieldTwoFactorSecret,
			)
			pipe.HSet(ctx, s.recordKey(id), map[string]interface{}{
				fieldTwoFactorEnabled:   "0",
				fieldTwoFactorSetupDone: "0",
			})
			pipe.Del(ctx, s.backupKey(id))
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

var _ authcore.MemberStore = (*MemberStore)(nil)
var _ authcore.PrincipalStore = (*Store)(nil)
