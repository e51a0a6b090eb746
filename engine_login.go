package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/feastbook/authcore/token"
)

// SecondFactorMethod selects which proof VerifySecondFactor checks. Exactly
// one credential kind is examined per call.
type SecondFactorMethod string

const (
	// MethodTOTP verifies a time-based code against the confirmed secret.
	MethodTOTP SecondFactorMethod = "totp"
	// MethodBackupCode consumes one single-use recovery code.
	MethodBackupCode SecondFactorMethod = "backup"
)

// LoginResult is the outcome of a successful credential check. Exactly one
// of Token and TemporaryToken is set: principals with two-factor enabled get
// a temporary token and must complete VerifySecondFactor before any session
// exists.
type LoginResult struct {
	// RequiresTwoFactor signals that TemporaryToken must be traded for a
	// session via VerifySecondFactor.
	RequiresTwoFactor bool
	// Token is the session token. Empty while a second factor is pending.
	Token string
	// TemporaryToken is the short-lived mid-login token. Never valid at the
	// authorization gate.
	TemporaryToken string
	// Principal is the public identity. Only set once fully authenticated.
	Principal *Identity
}

// Login authenticates a username and password across both principal stores.
//
// Every rejection the caller can observe is ErrInvalidCredentials: unknown
// username, wrong password, inactive principal, and login-disabled member
// are deliberately indistinguishable from outside. The audit trail records
// the precise reason.
//
// When the principal has two-factor enabled the result carries only a
// temporary token; the session token is withheld until VerifySecondFactor
// succeeds.
func (e *Engine) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, nil, "", ErrValidation, func() map[string]string {
			return map[string]string{"username": username}
		})
		return nil, ErrInvalidCredentials
	}

	p, err := e.resolver.ResolveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, nil, "", err, func() map[string]string {
				return map[string]string{"username": username}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !p.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p, "", ErrAccountInactive, nil)
		return nil, ErrInvalidCredentials
	}
	if !p.CanLogin() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p, "", ErrLoginNotEnabled, nil)
		return nil, ErrInvalidCredentials
	}

	kind, ok := e.verifyPrimaryOrMaster(p, password)
	if !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if kind == CredentialPrimary && e.config.Password.RehashOnLogin {
		e.maybeRehash(ctx, p, password)
	}

	if p.TwoFactorEnabled {
		id := tokenIdentity(p)
		id.Credential = string(kind)
		tempToken, err := e.tokens.IssueTemporary(id)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricSecondFactorRequired)
		e.emitAudit(ctx, auditEventLoginSecondFactor, true, p, "", nil, func() map[string]string {
			return map[string]string{"credential": string(kind)}
		})
		return &LoginResult{
			RequiresTwoFactor: true,
			TemporaryToken:    tempToken,
		}, nil
	}

	return e.finishLogin(ctx, p, kind)
}

// VerifySecondFactor trades a temporary token plus a second-factor proof for
// a session token. method selects TOTP or backup code; a used backup code is
// consumed atomically before the session is issued, so two concurrent calls
// with the same code produce at most one session.
func (e *Engine) VerifySecondFactor(ctx context.Context, tempToken, code string, method SecondFactorMethod) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(tempToken, token.PurposeTwoFactor)
	if err != nil {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, nil, "", ErrUnauthorized, nil)
		return nil, ErrUnauthorized
	}

	p, err := e.resolver.ResolveByID(ctx, Variant(claims.Variant), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricSecondFactorFailure)
			e.emitAudit(ctx, auditEventSecondFactorFailure, false, nil, claims.ID, ErrUnauthorized, nil)
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !p.CanLogin() || !p.TwoFactorEnabled {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, p, claims.ID, ErrUnauthorized, nil)
		return nil, ErrUnauthorized
	}

	ok, err := e.checkSecondFactor(ctx, p, code, method)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricSecondFactorFailure)
		if method == MethodBackupCode {
			e.metricInc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, p, claims.ID, ErrInvalidSecondFactor, nil)
		} else {
			e.emitAudit(ctx, auditEventSecondFactorFailure, false, p, claims.ID, ErrInvalidSecondFactor, nil)
		}
		return nil, ErrInvalidSecondFactor
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, p, claims.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})

	// The final audit event records the credential matched in the first
	// step, which the temporary token carried across.
	kind := CredentialKind(claims.Credential)
	if kind != CredentialMaster {
		kind = CredentialPrimary
	}
	return e.finishLogin(ctx, p, kind)
}

// verifyPrimaryOrMaster checks the primary password first, then the master
// password. The master path only exists for admin-role accounts that have
// one set; for everyone else a primary mismatch is final.
func (e *Engine) verifyPrimaryOrMaster(p *Principal, secret string) (CredentialKind, bool) {
	if p.PasswordHash != "" && e.hasher.Verify(secret, p.PasswordHash) {
		return CredentialPrimary, true
	}

	if p.Variant == VariantAccount && p.Role == RoleAdmin && p.MasterPasswordHash != "" {
		if e.hasher.Verify(secret, p.MasterPasswordHash) {
			return CredentialMaster, true
		}
	}

	return "", false
}

// checkSecondFactor verifies exactly one credential kind. A backup code
// match consumes the code as a side effect; the consumption result decides
// success, so a code racing through two requests wins at most once.
func (e *Engine) checkSecondFactor(ctx context.Context, p *Principal, code string, method SecondFactorMethod) (bool, error) {
	switch method {
	case MethodTOTP:
		return e.totp.VerifyCode(p.TwoFactorSecret, code), nil
	case MethodBackupCode:
		return e.consumeBackupCode(ctx, p, code)
	default:
		return false, ErrValidation
	}
}

// consumeBackupCode scans the stored hashes for one matching the candidate
// and atomically removes the matched element. Only a successful removal
// counts as a use.
func (e *Engine) consumeBackupCode(ctx context.Context, p *Principal, code string) (bool, error) {
	code = normalizeBackupCode(code)
	if code == "" {
		return false, nil
	}

	for _, hash := range p.BackupCodeHashes {
		if !e.hasher.Verify(code, hash) {
			continue
		}

		removed, err := e.storeFor(p.Variant).RemoveBackupCode(ctx, p.ID, hash)
		if err != nil {
			return false, wrapStoreErr(err)
		}
		if removed {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, p, "", nil, func() map[string]string {
				return map[string]string{"remaining": strconv.Itoa(len(p.BackupCodeHashes) - 1)}
			})
		}
		return removed, nil
	}
	return false, nil
}

// finishLogin issues the session token, touches LastLogin without blocking
// the response, and emits the success audit event.
func (e *Engine) finishLogin(ctx context.Context, p *Principal, kind CredentialKind) (*LoginResult, error) {
	sessionToken, err := e.tokens.IssueSession(tokenIdentity(p))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p, "", nil, func() map[string]string {
		return map[string]string{"credential": string(kind)}
	})

	store := e.storeFor(p.Variant)
	id := p.ID
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.TouchLastLogin(touchCtx, id, time.Now().UTC()); err != nil {
			log.Printf("authcore: last-login touch failed for %s: %v", id, err)
		}
	}()

	identity := IdentityOf(p)
	return &LoginResult{
		Token:     sessionToken,
		Principal: &identity,
	}, nil
}

// maybeRehash upgrades the stored hash to the current parameters after a
// successful primary login. Failures only log; the login already succeeded.
func (e *Engine) maybeRehash(ctx context.Context, p *Principal, secret string) {
	needs, err := e.hasher.NeedsRehash(p.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := e.hasher.Hash(secret)
	if err != nil {
		return
	}
	if err := e.storeFor(p.Variant).UpdatePasswordHash(ctx, p.ID, newHash); err != nil {
		log.Printf("authcore: hash upgrade failed for %s: %v", p.ID, err)
		return
	}
	p.PasswordHash = newHash
	e.metricInc(MetricPasswordRehashed)
}

func tokenIdentity(p *Principal) token.Identity {
	return token.Identity{
		PrincipalID: p.ID,
		Username:    p.Username,
		Role:        string(p.Role),
		Variant:     string(p.Variant),
	}
}
