package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginSecondFactor     = "login_second_factor_required"
	auditEventSecondFactorSuccess   = "second_factor_success"
	auditEventSecondFactorFailure   = "second_factor_failure"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventTwoFactorSetupStarted = "twofactor_setup_started"
	auditEventTwoFactorEnabled      = "twofactor_enabled"
	auditEventTwoFactorDisabled     = "twofactor_disabled"
	auditEventPasswordChanged       = "password_changed"
	auditEventPasswordChangeFailed  = "password_change_failed"
	auditEventMasterPasswordSet     = "master_password_set"
	auditEventMasterPasswordCleared = "master_password_cleared"
	auditEventRoleChanged           = "role_changed"
	auditEventLoginAccessChanged    = "login_access_changed"
	auditEventAuthorizeFailure      = "authorize_failure"
)

// AuditErrorCode is the stable machine-readable failure tag carried in
// AuditEvent.Error. It never leaks more than the matching sentinel does.
type AuditErrorCode string

const (
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrPrincipalNotFound   AuditErrorCode = "principal_not_found"
	auditErrAccountInactive     AuditErrorCode = "account_inactive"
	auditErrLoginNotEnabled     AuditErrorCode = "login_not_enabled"
	auditErrTokenExpired        AuditErrorCode = "token_expired"
	auditErrTokenInvalid        AuditErrorCode = "token_invalid"
	auditErrSecondFactorInvalid AuditErrorCode = "second_factor_invalid"
	auditErrSetupNotInitialized AuditErrorCode = "setup_not_initialized"
	auditErrTwoFactorDisabled   AuditErrorCode = "twofactor_not_enabled"
	auditErrMasterNotAllowed    AuditErrorCode = "master_password_not_allowed"
	auditErrUsernameTaken       AuditErrorCode = "username_taken"
	auditErrValidation          AuditErrorCode = "validation"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	p *Principal,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if p != nil {
		event.PrincipalID = p.ID
		event.Variant = p.Variant
		event.Username = p.Username
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrPrincipalNotFound
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrLoginNotEnabled):
		return auditErrLoginNotEnabled
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrInvalidSecondFactor):
		return auditErrSecondFactorInvalid
	case errors.Is(err, ErrSetupNotInitialized):
		return auditErrSetupNotInitialized
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorDisabled
	case errors.Is(err, ErrMasterPasswordNotAllowed):
		return auditErrMasterNotAllowed
	case errors.Is(err, ErrUsernameTaken):
		return auditErrUsernameTaken
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
