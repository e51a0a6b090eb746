package authcore

import (
	"errors"
	"fmt"

	"github.com/feastbook/authcore/password"
	"github.com/feastbook/authcore/token"
	"github.com/feastbook/authcore/totp"
)

// Engine is the authentication core. It is immutable after Build and safe
// for concurrent use; all per-request state lives in the stores and in the
// tokens themselves.
type Engine struct {
	config   Config
	accounts PrincipalStore
	members  MemberStore
	resolver *Resolver
	hasher   *password.Hasher
	totp     *totp.Engine
	tokens   *token.Manager
	audit    *auditDispatcher
	metrics  *Metrics
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) storeFor(variant Variant) PrincipalStore {
	if variant == VariantMember {
		return e.members
	}
	return e.accounts
}

// wrapStoreErr tags unexpected persistence failures so callers can match on
// ErrStoreUnavailable without seeing driver detail. Sentinels pass through.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
