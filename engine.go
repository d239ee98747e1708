package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/cache"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
)

// Engine is the authentication engine. It is safe for concurrent use once
// built; call Close to flush asynchronous audit delivery.
type Engine struct {
	config     Config
	users      UserStore
	hasher     PasswordHasher
	lockout    *limiters.LockoutLimiter
	mfaLimiter *limiters.MfaCodeLimiter
	cache      *cache.Cache
	challenges *stores.ChallengeStore
	refresh    *stores.RefreshStore
	jwtManager *jwt.Manager
	totp       *totpManager
	sms        Notifier
	email      Notifier
	audit      *audit.Dispatcher
	metrics    *Metrics
	now        func() time.Time
	logf       func(string, ...any)
}

// Close stops the asynchronous audit dispatcher after draining it.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports entries discarded because the async buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.lockout == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// backendFailure logs err once and hides it behind the generic failure.
func (e *Engine) backendFailure(op string, err error) error {
	e.logf("authcore: %s: %v", op, err)
	e.metricInc(MetricBackendFailure)
	return ErrAuthenticationFailed
}

// Authenticate runs a login: lockout check, credential check, active check,
// counter reset, MFA gating and token issuance, stopping at the first
// failure.
//
// When a second factor is required and none was supplied, a challenge is
// started and the result carries MfaRequired with no tokens and a nil error.
func (e *Engine) Authenticate(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}()

	username := strings.TrimSpace(req.Username)
	now := e.now()

	until, locked, err := e.lockout.Check(ctx, username, now)
	if err != nil {
		return nil, e.backendFailure("lockout check", err)
	}
	if locked {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, AuditActionAccountLocked, AuditSecurity, false, "", auditEntityAccount, username, ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": formatAuditTime(until)}
		})
		return nil, ErrAccountLocked
	}

	user, ok, err := e.users.ValidateCredentials(ctx, username, req.Password)
	if err != nil {
		return nil, e.backendFailure("validate credentials", err)
	}
	if !ok || user == nil {
		return nil, e.recordCredentialFailure(ctx, username, now)
	}

	if !user.Active {
		e.metricInc(MetricLoginInactive)
		e.emitAudit(ctx, AuditActionAccountInactive, AuditWarning, false, user.ID, auditEntityUser, user.ID, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	if err := e.lockout.Reset(ctx, username); err != nil {
		return nil, e.backendFailure("lockout reset", err)
	}

	usedBackup := false
	if user.MfaEnabled && e.config.MFA.Enabled {
		switch {
		case req.MfaCode != "" && req.ChallengeID != "":
			_, usedBackup, err = e.validateChallenge(ctx, req.ChallengeID, req.MfaCode, user.ID, now)
			if err != nil {
				return nil, err
			}
		case req.MfaCode != "":
			usedBackup, err = e.verifyBareCode(ctx, user, req.MfaCode, now)
			if err != nil {
				return nil, err
			}
		default:
			desc, err := e.initiateChallenge(ctx, user, now)
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricMfaRequired)
			return &AuthResult{MfaRequired: true, Challenge: desc}, nil
		}
	}

	return e.completeLogin(ctx, user, usedBackup, now)
}

// recordCredentialFailure counts a failed credential check. The failure that
// reaches the threshold already reports the account as locked.
func (e *Engine) recordCredentialFailure(ctx context.Context, username string, now time.Time) error {
	count, locked, err := e.lockout.RecordFailure(ctx, username, now)
	if err != nil {
		return e.backendFailure("lockout record failure", err)
	}
	attempts := strconv.FormatInt(count, 10)

	if locked {
		e.metricInc(MetricLockoutTriggered)
		until := now.Add(e.config.Security.LockoutDuration)
		e.emitAudit(ctx, AuditActionSecurityViolation, AuditSecurity, false, "", auditEntityAccount, username, ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"reason":       "max_login_attempts",
				"attempts":     attempts,
				"locked_until": formatAuditTime(until),
			}
		})
		return ErrAccountLocked
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditActionLoginFailed, AuditWarning, false, "", auditEntityAccount, username, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"attempts": attempts}
	})
	return ErrInvalidCredentials
}

// completeLogin issues tokens for an authenticated user and records the login.
func (e *Engine) completeLogin(ctx context.Context, user *User, usedBackup bool, now time.Time) (*AuthResult, error) {
	result, err := e.issueTokens(ctx, user, now)
	if err != nil {
		return nil, err
	}
	result.UsedBackupCode = usedBackup

	if err := e.users.RecordLogin(ctx, user.ID, now); err != nil {
		e.logf("authcore: record login for %s: %v", user.ID, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditActionLogin, AuditInfo, true, user.ID, auditEntityUser, user.ID, nil, func() map[string]string {
		return map[string]string{
			"mfa":         strconv.FormatBool(user.MfaEnabled && e.config.MFA.Enabled),
			"backup_code": strconv.FormatBool(usedBackup),
		}
	})
	return result, nil
}

// UnlockAccount clears the failed-attempt counter and lock of username.
func (e *Engine) UnlockAccount(ctx context.Context, username string) error {
	if err := e.ready(); err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if err := e.lockout.Reset(ctx, username); err != nil {
		return e.backendFailure("unlock account", err)
	}
	e.emitAudit(ctx, AuditActionAccountUnlocked, AuditSecurity, true, "", auditEntityAccount, username, nil, nil)
	return nil
}

// FailedAttempts returns the current consecutive failure count of username.
func (e *Engine) FailedAttempts(ctx context.Context, username string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.lockout.FailureCount(ctx, strings.TrimSpace(username))
	if err != nil {
		return 0, e.backendFailure("failure count", err)
	}
	return int(n), nil
}

// ClearAllLockouts removes every counter and lock and returns how many keys
// were deleted.
func (e *Engine) ClearAllLockouts(ctx context.Context) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.cache.RemoveByPattern(ctx, "lo:*")
	if err != nil {
		return 0, e.backendFailure("clear lockouts", err)
	}
	e.emitAudit(ctx, AuditActionLockoutsCleared, AuditSecurity, true, "", auditEntityAccount, "*", nil, func() map[string]string {
		return map[string]string{"keys": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

// lookupUser maps a missing user to ErrUserNotFound and any other store
// failure to the generic failure.
func (e *Engine) lookupUser(ctx context.Context, userID string) (*User, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) || (err == nil && user == nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, e.backendFailure("get user", err)
	}
	return user, nil
}

func userInfo(u *User) *UserInfo {
	if u == nil {
		return nil
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       roles,
		MfaEnabled:  u.MfaEnabled,
	}
}
