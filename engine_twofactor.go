package authcore

import (
	"context"
)

// TwoFactorStatus is the client-visible state of a principal's second
// factor.
type TwoFactorStatus struct {
	Enabled   bool `json:"twoFactorEnabled"`
	SetupDone bool `json:"setupCompleted"`
}

// TwoFactorSetup is returned by BeginTwoFactorSetup: everything a client
// needs to enroll an authenticator app. The secret is shown exactly once.
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCode          string `json:"qrCode"`
}

// TwoFactorOf reports the second-factor state of an authorized principal.
func (e *Engine) TwoFactorOf(p *Principal) TwoFactorStatus {
	if p == nil {
		return TwoFactorStatus{}
	}
	return TwoFactorStatus{
		Enabled:   p.TwoFactorEnabled,
		SetupDone: p.TwoFactorSetupDone,
	}
}

// BeginTwoFactorSetup re-verifies the primary password, mints a fresh
// secret, and persists it as pending. Any earlier pending secret is
// replaced. While two-factor is enabled the call is rejected: there is one
// secret slot per principal, so enrolling a new one requires disabling
// first. The caller must already hold an authorized principal.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, p *Principal, currentPassword string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if p == nil {
		return nil, ErrUnauthorized
	}
	if p.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	if !e.hasher.Verify(currentPassword, p.PasswordHash) {
		e.emitAudit(ctx, auditEventTwoFactorSetupStarted, false, p, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	setup, err := e.totp.GenerateSecret(p.Username)
	if err != nil {
		return nil, err
	}

	if err := e.storeFor(p.Variant).SetPendingTwoFactorSecret(ctx, p.ID, setup.Secret); err != nil {
		return nil, wrapStoreErr(err)
	}
	p.TwoFactorSecret = setup.Secret
	p.TwoFactorSetupDone = false

	e.emitAudit(ctx, auditEventTwoFactorSetupStarted, true, p, "", nil, nil)

	return &TwoFactorSetup{
		Secret:          setup.Secret,
		ProvisioningURI: setup.URI,
		QRCode:          setup.QRCodePNG,
	}, nil
}

// ConfirmTwoFactorSetup proves possession of the pending secret with a live
// code. On success two-factor is enabled and a fresh set of backup codes is
// minted; the plaintext codes are returned exactly once. A failed code
// leaves the pending secret in place so the client can simply retry.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, p *Principal, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if p == nil {
		return nil, ErrUnauthorized
	}

	if p.TwoFactorSecret == "" {
		return nil, ErrSetupNotInitialized
	}

	if !e.totp.VerifyCode(p.TwoFactorSecret, code) {
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, p, "", ErrInvalidSecondFactor, nil)
		return nil, ErrInvalidSecondFactor
	}

	codes, hashes, err := e.mintBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := e.storeFor(p.Variant).EnableTwoFactor(ctx, p.ID, hashes); err != nil {
		return nil, wrapStoreErr(err)
	}
	p.TwoFactorEnabled = true
	p.TwoFactorSetupDone = true
	p.BackupCodeHashes = hashes

	e.metricInc(MetricTwoFactorEnabled)
	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, p, "", nil, nil)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, p, "", nil, nil)

	return codes, nil
}

// DisableTwoFactor turns the second factor off after re-proving both the
// password and a current second factor. A password failure reports
// ErrInvalidCredentials; a code failure reports ErrInvalidSecondFactor, so
// the client can tell which prompt to repeat. Success clears the secret,
// the flags, and every backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, p *Principal, currentPassword, code string, method SecondFactorMethod) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if p == nil {
		return ErrUnauthorized
	}
	if !p.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if !e.hasher.Verify(currentPassword, p.PasswordHash) {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, p, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	ok, err := e.checkSecondFactor(ctx, p, code, method)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, p, "", ErrInvalidSecondFactor, nil)
		return ErrInvalidSecondFactor
	}

	if err := e.storeFor(p.Variant).DisableTwoFactor(ctx, p.ID); err != nil {
		return wrapStoreErr(err)
	}
	p.TwoFactorSecret = ""
	p.TwoFactorEnabled = false
	p.TwoFactorSetupDone = false
	p.BackupCodeHashes = nil

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, p, "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return nil
}

// RegenerateBackupCodes replaces every stored backup code with a fresh set,
// after re-proving the password and a current second factor. Old codes stop
// working the moment the replacement lands.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, p *Principal, currentPassword, code string, method SecondFactorMethod) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if p == nil {
		return nil, ErrUnauthorized
	}
	if !p.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if !e.hasher.Verify(currentPassword, p.PasswordHash) {
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, p, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.checkSecondFactor(ctx, p, code, method)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, p, "", ErrInvalidSecondFactor, nil)
		return nil, ErrInvalidSecondFactor
	}

	codes, hashes, err := e.mintBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := e.storeFor(p.Variant).ReplaceBackupCodes(ctx, p.ID, hashes); err != nil {
		return nil, wrapStoreErr(err)
	}
	p.BackupCodeHashes = hashes

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, p, "", nil, nil)

	return codes, nil
}

// mintBackupCodes generates the configured number of codes and hashes each
// one individually with the password hasher.
func (e *Engine) mintBackupCodes() (codes []string, hashes []string, err error) {
	codes, err = newBackupCodes(e.config.BackupCodes)
	if err != nil {
		return nil, nil, err
	}

	hashes = make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := e.hasher.Hash(c)
		if err != nil {
			return nil, nil, err
		}
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}
