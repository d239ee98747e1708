package authcore

import (
	"context"
	"strconv"

	internalflows "github.com/MrEthical07/authcore/internal/flows"
)

// GenerateBackupCodes returns count fresh plaintext codes and their hashes in
// the same order. Only the hashes may be persisted; the plaintext is shown to
// the user once. A count of zero uses MFA.BackupCodeCount.
func (e *Engine) GenerateBackupCodes(count int) ([]string, []string, error) {
	if e == nil || e.hasher == nil {
		return nil, nil, ErrEngineNotReady
	}
	if count <= 0 {
		count = e.config.MFA.BackupCodeCount
	}
	plain, hashes, err := internalflows.GenerateBackupCodes(count, e.backupCodeFlowDeps())
	if err != nil {
		return nil, nil, e.backendFailure("generate backup codes", err)
	}
	return plain, hashes, nil
}

// ValidateAndConsume checks code against userID's backup codes and removes
// the matching hash. Each code succeeds once, even under concurrent use.
func (e *Engine) ValidateAndConsume(ctx context.Context, userID, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return false, err
	}
	ok, err := e.consumeBackupCode(ctx, user, code)
	if err != nil {
		return false, e.backendFailure("consume backup code", err)
	}
	return ok, nil
}

// consumeBackupCode removes the hash matching code. Store errors are
// returned unconverted.
func (e *Engine) consumeBackupCode(ctx context.Context, user *User, code string) (bool, error) {
	if len(user.BackupCodeHashes) == 0 {
		return false, nil
	}
	ok, err := internalflows.RunConsumeBackupCode(ctx, user.ID, code, user.BackupCodeHashes, e.backupCodeFlowDeps())
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		return false, nil
	}
	e.backupCodeUsed(ctx, user)
	return true, nil
}

// matchBackupCode finds the hash for code without removing it.
func (e *Engine) matchBackupCode(user *User, code string) (string, bool, error) {
	if len(user.BackupCodeHashes) == 0 {
		return "", false, nil
	}
	h, ok, err := internalflows.RunMatchBackupCode(user.ID, code, user.BackupCodeHashes, e.backupCodeFlowDeps())
	if err != nil {
		return "", false, err
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
	}
	return h, ok, nil
}

func (e *Engine) backupCodeUsed(ctx context.Context, user *User) {
	remaining := len(user.BackupCodeHashes) - 1
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, AuditActionBackupCodeUsed, AuditSecurity, true, user.ID, auditEntityUser, user.ID, nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(remaining)}
	})
}

// RegenerateBackupCodes replaces all backup codes of userID. It is confirmed
// the same way as DisableMfa.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, verificationCode string) ([]string, error) {
	user, err := e.mfaManagementUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.confirmManagementCode(ctx, user, verificationCode); err != nil {
		return nil, err
	}

	plain, hashes, err := e.GenerateBackupCodes(e.config.MFA.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.users.ReplaceBackupCodes(ctx, user.ID, hashes); err != nil {
		return nil, e.backendFailure("replace backup codes", err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, AuditActionBackupCodesReissued, AuditSecurity, true, user.ID, auditEntityUser, user.ID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(plain))}
	})
	return plain, nil
}

func (e *Engine) backupCodeFlowDeps() internalflows.BackupCodeDeps {
	return internalflows.BackupCodeDeps{
		Hash:   e.hasher.Hash,
		Verify: e.hasher.Verify,
		Remove: e.users.RemoveBackupCode,
		Warn:   e.logf,
	}
}
