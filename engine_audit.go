package authcore

import (
	"context"
	"time"
)

// Audit actions written by the engine.
const (
	AuditActionLogin               = "Login"
	AuditActionLoginFailed         = "LoginFailed"
	AuditActionAccountLocked       = "AccountLocked"
	AuditActionSecurityViolation   = "SecurityViolation"
	AuditActionAccountInactive     = "AccountInactive"
	AuditActionAccountUnlocked     = "AccountUnlocked"
	AuditActionLockoutsCleared     = "LockoutsCleared"
	AuditActionMfaChallengeCreated = "MfaChallengeCreated"
	AuditActionMfaValidated        = "MFA_VALIDATED"
	AuditActionMfaFailed           = "MFA_FAILED"
	AuditActionMfaEnabled          = "MfaEnabled"
	AuditActionMfaDisabled         = "MfaDisabled"
	AuditActionBackupCodeUsed      = "BackupCodeUsed"
	AuditActionBackupCodesReissued = "BackupCodesRegenerated"
	AuditActionTokenRefreshed      = "TokenRefreshed"
	AuditActionTokenRefreshFailed  = "TokenRefreshFailed"
	AuditActionTokenRevoked        = "TokenRevoked"
	AuditActionTokensRevokedByUser = "TokensRevokedForUser"
)

// Entity types recorded on audit entries.
const (
	auditEntityAccount   = "Account"
	auditEntityUser      = "User"
	auditEntityChallenge = "MfaChallenge"
	auditEntityToken     = "RefreshToken"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	severity AuditSeverity,
	success bool,
	actorID string,
	entityType string,
	entityID string,
	err error,
	detailsBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var details map[string]string
	if detailsBuilder != nil {
		details = detailsBuilder()
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		details = withDetail(details, "ip", ip)
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		details = withDetail(details, "user_agent", ua)
	}
	if err != nil {
		details = withDetail(details, "error", KindOf(err).String())
	}

	e.audit.Emit(ctx, AuditEntry{
		Timestamp:  e.now().UTC(),
		Action:     action,
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Success:    success,
		Severity:   severity,
		Details:    details,
	})
}

func withDetail(details map[string]string, key, value string) map[string]string {
	if details == nil {
		details = make(map[string]string, 2)
	}
	details[key] = value
	return details
}

func formatAuditTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
