package authcore

import (
	"context"
	"errors"

	"github.com/feastbook/authcore/token"
)

// AuthResult is a verified request context: the parsed token claims plus the
// freshly reloaded principal backing them.
type AuthResult struct {
	// Principal is the current store record, not the token-time snapshot.
	// Role or status changes take effect on the next request.
	Principal *Principal
	// SessionID is the token's unique id, carried into audit events.
	SessionID string
}

// IsAdmin reports whether the principal holds the admin role, regardless of
// variant.
func (r *AuthResult) IsAdmin() bool {
	return r != nil && r.Principal != nil && r.Principal.Role == RoleAdmin
}

// IsSystemAdmin reports whether the principal is an admin-role account.
// Admin members administer their household, not the system.
func (r *AuthResult) IsSystemAdmin() bool {
	return r.IsAdmin() && r.Principal.Variant == VariantAccount
}

// CanActOn reports whether the principal may modify a resource owned by
// ownerID: owners always, admins for everything.
func (r *AuthResult) CanActOn(ownerID string) bool {
	if r == nil || r.Principal == nil {
		return false
	}
	return r.Principal.ID == ownerID || r.IsAdmin()
}

// Authorize verifies a session token and reloads its principal.
//
// An expired token maps to ErrTokenExpired; anything else wrong with the
// token itself, including a temporary token presented here, maps to
// ErrTokenInvalid. A token that verifies but whose principal is gone,
// inactive, or login-disabled maps to ErrUnauthorized: the reload is what
// makes revocation work without server-side session state.
func (e *Engine) Authorize(ctx context.Context, sessionToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(sessionToken, token.PurposeSession)
	if err != nil {
		e.metricInc(MetricAuthorizeFailure)
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	p, err := e.resolver.ResolveByID(ctx, Variant(claims.Variant), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricAuthorizeFailure)
			e.emitAudit(ctx, auditEventAuthorizeFailure, false, nil, claims.ID, ErrUnauthorized, func() map[string]string {
				return map[string]string{"username": claims.Username}
			})
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if !p.CanLogin() {
		e.metricInc(MetricAuthorizeFailure)
		e.emitAudit(ctx, auditEventAuthorizeFailure, false, p, claims.ID, ErrUnauthorized, nil)
		return nil, ErrUnauthorized
	}

	e.metricInc(MetricAuthorizeSuccess)
	return &AuthResult{
		Principal: p,
		SessionID: claims.ID,
	}, nil
}
