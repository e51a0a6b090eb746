package authcore

import "errors"

var (
	// ErrInvalidCredentials covers every login rejection the caller is
	// allowed to observe: unknown username, wrong password, inactive
	// principal, login-disabled member. Deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized rejects a request whose token or reloaded principal no
	// longer grants access.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenExpired rejects a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid rejects a malformed, forged, or wrong-purpose token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrAccountInactive marks an inactive principal. Surfaced to audit only;
	// the login protocol reports ErrInvalidCredentials instead.
	ErrAccountInactive = errors.New("account inactive")
	// ErrLoginNotEnabled marks a member whose login capability is switched
	// off. Surfaced to audit only; login reports ErrInvalidCredentials.
	ErrLoginNotEnabled = errors.New("login not enabled")
	// ErrSetupNotInitialized rejects a two-factor confirmation with no
	// pending secret.
	ErrSetupNotInitialized = errors.New("two-factor setup not initialized")
	// ErrInvalidSecondFactor rejects a TOTP code or backup code that failed
	// verification.
	ErrInvalidSecondFactor = errors.New("invalid totp or backup code")
	// ErrTwoFactorNotEnabled rejects a two-factor operation on a principal
	// without two-factor enabled.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorAlreadyEnabled rejects starting setup while two-factor is
	// active. The second factor must be disabled before a new secret can be
	// enrolled; otherwise a setup call would orphan the confirmed secret.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrMasterPasswordNotAllowed rejects setting a master password on
	// anything but an admin-role account.
	ErrMasterPasswordNotAllowed = errors.New("master password requires an admin account")
	// ErrValidation rejects a request with a missing or malformed field.
	ErrValidation = errors.New("validation failed")
	// ErrPrincipalNotFound is returned by stores when no record matches.
	// It never crosses the protocol boundary.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrUsernameTaken rejects creating a principal whose username already
	// exists in either store.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrStoreUnavailable wraps unexpected persistence failures. Callers see
	// a generic 500-class failure; detail stays in server logs.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEngineNotReady reports use of an Engine that was not built.
	ErrEngineNotReady = errors.New("engine not initialized")
)
