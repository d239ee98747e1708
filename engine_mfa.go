package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/stores"
)

const challengeCodeDigits = 6

// InitiateChallenge starts a second-factor challenge for userID. SMS and
// Email users receive a fresh six-digit code; TOTP users compute theirs.
//
// A missing user or a user without MFA is a caller error and is returned as
// ErrUserNotFound or ErrMfaNotEnabled.
func (e *Engine) InitiateChallenge(ctx context.Context, userID string) (*ChallengeDescriptor, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.MFA.Enabled {
		return nil, ErrMfaFeatureDisabled
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.initiateChallenge(ctx, user, e.now())
}

func (e *Engine) initiateChallenge(ctx context.Context, user *User, now time.Time) (*ChallengeDescriptor, error) {
	if !user.MfaEnabled || user.Mfa == nil {
		return nil, ErrMfaNotEnabled
	}

	c := &stores.Challenge{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Method:    user.Mfa.Kind().String(),
		ExpiresAt: now.Add(e.config.MFA.ChallengeTTL),
	}

	var (
		gateway     Notifier
		destination string
		code        string
	)
	switch m := user.Mfa.(type) {
	case TOTPMethod:
	case SMSMethod:
		gateway, destination = e.sms, m.Phone
	case EmailMethod:
		gateway, destination = e.email, user.Email
	default:
		return nil, ErrMfaNotEnabled
	}

	if user.Mfa.Kind() != MfaTOTP {
		if gateway == nil {
			return nil, e.backendFailure("initiate challenge", fmt.Errorf("no %s gateway configured", c.Method))
		}
		if destination == "" {
			return nil, e.backendFailure("initiate challenge", fmt.Errorf("user %s has no %s destination", user.ID, c.Method))
		}
		var err error
		code, err = internal.NewNumericCode(challengeCodeDigits)
		if err != nil {
			return nil, e.backendFailure("generate challenge code", err)
		}
		c.CodeHash = stores.HashChallengeCode(c.ID, code)
	}

	if err := e.challenges.Create(ctx, c, now); err != nil {
		return nil, e.backendFailure("create challenge", err)
	}

	if code != "" {
		if err := gateway.Send(ctx, destination, fmt.Sprintf(e.config.MFA.CodeMessage, code)); err != nil {
			if derr := e.challenges.Delete(ctx, c.ID); derr != nil {
				e.logf("authcore: delete undelivered challenge %s: %v", c.ID, derr)
			}
			e.metricInc(MetricNotificationFailure)
			e.logf("authcore: deliver %s code to user %s: %v", c.Method, user.ID, err)
			return nil, ErrAuthenticationFailed
		}
	}

	e.metricInc(MetricMfaChallengeCreated)
	e.emitAudit(ctx, AuditActionMfaChallengeCreated, AuditInfo, true, user.ID, auditEntityChallenge, c.ID, nil, func() map[string]string {
		return map[string]string{"method": c.Method}
	})

	return &ChallengeDescriptor{
		ID:          c.ID,
		Method:      user.Mfa.Kind(),
		MethodName:  c.Method,
		ExpiresAt:   c.ExpiresAt,
		Destination: maskDestination(user.Mfa.Kind(), destination),
	}, nil
}

// ValidateChallenge completes a login with the code for a pending challenge.
// TOTP codes are checked against the user's secret, SMS and Email codes
// against the code sent; a backup code is accepted for any method.
//
// Unknown, expired, exhausted and used challenges all fail with
// ErrChallengeExpiredOrNotFound. A challenge succeeds at most once.
func (e *Engine) ValidateChallenge(ctx context.Context, challengeID, code string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()
	user, usedBackup, err := e.validateChallenge(ctx, challengeID, code, "", now)
	if err != nil {
		return nil, err
	}
	return e.completeLogin(ctx, user, usedBackup, now)
}

// validateChallenge checks code against challengeID and marks it used. When
// expectedUserID is set the challenge must belong to that user.
func (e *Engine) validateChallenge(ctx context.Context, challengeID, code, expectedUserID string, now time.Time) (*User, bool, error) {
	c, err := e.challenges.Get(ctx, challengeID, now)
	if err != nil {
		return nil, false, e.challengeFailure(ctx, challengeID, err)
	}
	if expectedUserID != "" && c.UserID != expectedUserID {
		return nil, false, e.challengeFailure(ctx, challengeID, stores.ErrChallengeNotFound)
	}

	user, err := e.users.GetUserByID(ctx, c.UserID)
	if err == nil && user == nil {
		err = ErrUserNotFound
	}
	if err != nil {
		return nil, false, e.backendFailure("resolve challenge owner", err)
	}
	if !user.Active {
		e.emitAudit(ctx, AuditActionAccountInactive, AuditWarning, false, user.ID, auditEntityUser, user.ID, ErrAccountInactive, nil)
		return nil, false, ErrAccountInactive
	}

	// A backup code is only matched here. It is removed after MarkUsed so a
	// submission that loses the challenge keeps its code.
	var backupHash string
	res, err := flows.RunVerifySecondFactor(ctx, code, flows.SecondFactorDeps{
		VerifyPrimary: func(ctx context.Context, code string) (bool, error) {
			return e.verifyPrimary(ctx, user, c, code, now)
		},
		CheckBackup: func(_ context.Context, code string) (bool, error) {
			h, ok, err := e.matchBackupCode(user, code)
			backupHash = h
			return ok, err
		},
	})
	if err != nil {
		return nil, false, e.backendFailure("verify challenge", err)
	}

	if !res.OK {
		attempts, ferr := e.challenges.RecordFailure(ctx, c.ID, e.config.MFA.MaxChallengeAttempts)
		exhausted := errors.Is(ferr, stores.ErrChallengeExhausted)
		if ferr != nil && !exhausted && !errors.Is(ferr, stores.ErrChallengeNotFound) {
			e.logf("authcore: record challenge failure %s: %v", c.ID, ferr)
		}
		if exhausted {
			e.metricInc(MetricMfaChallengeExhausted)
		}
		e.metricInc(MetricMfaFailure)
		e.emitAudit(ctx, AuditActionMfaFailed, AuditWarning, false, user.ID, auditEntityChallenge, c.ID, ErrInvalidMfaCode, func() map[string]string {
			return map[string]string{
				"method":    c.Method,
				"attempts":  strconv.Itoa(attempts),
				"exhausted": strconv.FormatBool(exhausted),
			}
		})
		return nil, false, ErrInvalidMfaCode
	}

	if err := e.challenges.MarkUsed(ctx, c.ID, now); err != nil {
		return nil, false, e.challengeFailure(ctx, c.ID, err)
	}
	if res.UsedBackupCode {
		if err := e.claimBackupCode(ctx, user, c.ID, backupHash); err != nil {
			return nil, false, err
		}
	}

	e.recordMfaValidation(ctx, user, c.ID, c.Method, res.UsedBackupCode, now)
	return user, res.UsedBackupCode, nil
}

// claimBackupCode removes the backup code that completed challengeID. When
// the code was spent elsewhere in the meantime the challenge is released and
// the submission fails as a wrong code.
func (e *Engine) claimBackupCode(ctx context.Context, user *User, challengeID, hash string) error {
	removed, err := e.users.RemoveBackupCode(ctx, user.ID, hash)
	if err == nil && removed {
		e.backupCodeUsed(ctx, user)
		return nil
	}
	if rerr := e.challenges.Release(ctx, challengeID); rerr != nil {
		e.logf("authcore: release challenge %s: %v", challengeID, rerr)
	}
	if err != nil {
		return e.backendFailure("consume backup code", err)
	}
	e.metricInc(MetricBackupCodeFailed)
	e.metricInc(MetricMfaFailure)
	e.emitAudit(ctx, AuditActionMfaFailed, AuditWarning, false, user.ID, auditEntityChallenge, challengeID, ErrInvalidMfaCode, func() map[string]string {
		return map[string]string{"reason": "backup_code_spent"}
	})
	return ErrInvalidMfaCode
}

func (e *Engine) challengeFailure(ctx context.Context, challengeID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound),
		errors.Is(err, stores.ErrChallengeExpired),
		errors.Is(err, stores.ErrChallengeUsed),
		errors.Is(err, stores.ErrChallengeExhausted):
		e.metricInc(MetricMfaChallengeExpired)
		e.emitAudit(ctx, AuditActionMfaFailed, AuditWarning, false, "", auditEntityChallenge, challengeID, ErrChallengeExpiredOrNotFound, func() map[string]string {
			return map[string]string{"reason": err.Error()}
		})
		return ErrChallengeExpiredOrNotFound
	default:
		return e.backendFailure("load challenge", err)
	}
}

// verifyBareCode handles a code submitted with the password but without a
// challenge id. It is bounded by the per-user MFA attempt limiter.
func (e *Engine) verifyBareCode(ctx context.Context, user *User, code string, now time.Time) (bool, error) {
	ok, usedBackup, err := e.verifyUserCode(ctx, user, code, now, true)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrInvalidMfaCode
	}
	e.recordMfaValidation(ctx, user, "", user.Mfa.Kind().String(), usedBackup, now)
	return usedBackup, nil
}

// verifyUserCode checks a code outside of a challenge. The TOTP secret is
// tried first; SMS and Email users have no standing code, so for them only a
// backup code can match, and only when allowBackup is set.
func (e *Engine) verifyUserCode(ctx context.Context, user *User, code string, now time.Time, allowBackup bool) (bool, bool, error) {
	if err := e.mfaLimiter.Check(ctx, user.ID); err != nil {
		if errors.Is(err, limiters.ErrMfaRateLimited) {
			e.metricInc(MetricMfaFailure)
			e.emitAudit(ctx, AuditActionMfaFailed, AuditSecurity, false, user.ID, auditEntityUser, user.ID, ErrInvalidMfaCode, func() map[string]string {
				return map[string]string{"reason": "rate_limited"}
			})
			return false, false, nil
		}
		return false, false, e.backendFailure("mfa limiter", err)
	}

	deps := flows.SecondFactorDeps{
		VerifyPrimary: func(ctx context.Context, code string) (bool, error) {
			return e.verifyPrimary(ctx, user, nil, code, now)
		},
	}
	if allowBackup {
		deps.CheckBackup = func(ctx context.Context, code string) (bool, error) {
			return e.consumeBackupCode(ctx, user, code)
		}
	}
	res, err := flows.RunVerifySecondFactor(ctx, code, deps)
	if err != nil {
		return false, false, e.backendFailure("verify mfa code", err)
	}

	if !res.OK {
		if lerr := e.mfaLimiter.RecordFailure(ctx, user.ID); lerr != nil {
			e.logf("authcore: record mfa failure for %s: %v", user.ID, lerr)
		}
		e.metricInc(MetricMfaFailure)
		e.emitAudit(ctx, AuditActionMfaFailed, AuditWarning, false, user.ID, auditEntityUser, user.ID, ErrInvalidMfaCode, func() map[string]string {
			return map[string]string{"method": MfaKindOf(user.Mfa).String()}
		})
		return false, false, nil
	}

	if lerr := e.mfaLimiter.Reset(ctx, user.ID); lerr != nil {
		e.logf("authcore: reset mfa attempts for %s: %v", user.ID, lerr)
	}
	return true, res.UsedBackupCode, nil
}

// verifyPrimary checks code against the user's configured method. c is nil
// outside of a challenge.
func (e *Engine) verifyPrimary(ctx context.Context, user *User, c *stores.Challenge, code string, now time.Time) (bool, error) {
	switch m := user.Mfa.(type) {
	case TOTPMethod:
		return e.verifyTOTP(ctx, user.ID, m.Secret, code, now)
	case SMSMethod, EmailMethod:
		if c == nil {
			return false, nil
		}
		return c.Matches(strings.TrimSpace(code)), nil
	default:
		return false, nil
	}
}

// verifyTOTP accepts codes from the previous, current and next time step.
// With replay protection each step's code is accepted once per user.
func (e *Engine) verifyTOTP(ctx context.Context, userID, secret, code string, now time.Time) (bool, error) {
	ok, counter, err := e.totp.VerifyCode(secret, code, now)
	if err != nil {
		return false, err
	}
	if !ok || !e.config.MFA.EnforceTOTPReplayProtection {
		return ok, nil
	}

	period := time.Duration(e.config.MFA.TOTPPeriod) * time.Second
	ttl := period * time.Duration(2*e.config.MFA.TOTPSkew+2)
	fresh, err := e.cache.SetNX(ctx, "totp:used:"+userID+":"+strconv.FormatInt(counter, 10), "1", ttl)
	if err != nil {
		return false, err
	}
	if !fresh {
		e.metricInc(MetricMfaReplayDetected)
		return false, nil
	}
	return true, nil
}

func (e *Engine) recordMfaValidation(ctx context.Context, user *User, challengeID, method string, usedBackup bool, now time.Time) {
	if err := e.users.RecordMfaValidation(ctx, user.ID, now); err != nil {
		e.logf("authcore: record mfa validation for %s: %v", user.ID, err)
	}
	e.metricInc(MetricMfaSuccess)
	entityType, entityID := auditEntityChallenge, challengeID
	if challengeID == "" {
		entityType, entityID = auditEntityUser, user.ID
	}
	e.emitAudit(ctx, AuditActionMfaValidated, AuditInfo, true, user.ID, entityType, entityID, nil, func() map[string]string {
		return map[string]string{
			"method":      method,
			"backup_code": strconv.FormatBool(usedBackup),
		}
	})
}

// SetupMfa enrolls userID in a second factor and issues a fresh batch of
// backup codes. For TOTP the result carries the secret, its otpauth URL and
// a PNG QR code. SMS is activated without verifying the phone number.
func (e *Engine) SetupMfa(ctx context.Context, userID string, req MfaSetupRequest) (*MfaSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.MFA.Enabled {
		return nil, ErrMfaFeatureDisabled
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	setup := &MfaSetup{Method: req.Kind, MethodName: req.Kind.String()}
	var method MfaMethod
	switch req.Kind {
	case MfaTOTP:
		account := user.Email
		if account == "" {
			account = user.Username
		}
		key, err := e.totp.GenerateKey(account)
		if err != nil {
			return nil, e.backendFailure("generate totp secret", err)
		}
		png, err := e.totp.QRCodePNG(key)
		if err != nil {
			return nil, e.backendFailure("render totp qr code", err)
		}
		if method, err = NewTOTPMethod(key.Secret()); err != nil {
			return nil, err
		}
		setup.Secret = key.Secret()
		setup.QRCodeURL = key.URL()
		setup.QRCodePNG = png
	case MfaSMS:
		if method, err = NewSMSMethod(req.Phone); err != nil {
			return nil, err
		}
	case MfaEmail:
		if strings.TrimSpace(user.Email) == "" {
			return nil, ErrMfaSetupInvalid
		}
		method = EmailMethod{}
	default:
		return nil, ErrMfaSetupInvalid
	}

	plain, hashes, err := e.GenerateBackupCodes(e.config.MFA.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.users.EnableMfa(ctx, user.ID, method, hashes); err != nil {
		return nil, e.backendFailure("enable mfa", err)
	}
	setup.BackupCodes = plain

	e.metricInc(MetricMfaEnabled)
	e.emitAudit(ctx, AuditActionMfaEnabled, AuditSecurity, true, user.ID, auditEntityUser, user.ID, nil, func() map[string]string {
		return map[string]string{"method": req.Kind.String()}
	})
	return setup, nil
}

// DisableMfa removes the user's second factor and backup codes. TOTP users
// confirm with a current TOTP code; SMS and Email users confirm with a
// backup code.
func (e *Engine) DisableMfa(ctx context.Context, userID, verificationCode string) error {
	user, err := e.mfaManagementUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.confirmManagementCode(ctx, user, verificationCode); err != nil {
		return err
	}

	if err := e.users.DisableMfa(ctx, user.ID); err != nil {
		return e.backendFailure("disable mfa", err)
	}

	e.metricInc(MetricMfaDisabled)
	e.emitAudit(ctx, AuditActionMfaDisabled, AuditSecurity, true, user.ID, auditEntityUser, user.ID, nil, func() map[string]string {
		return map[string]string{"method": MfaKindOf(user.Mfa).String()}
	})
	return nil
}

func (e *Engine) mfaManagementUser(ctx context.Context, userID string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.MFA.Enabled {
		return nil, ErrMfaFeatureDisabled
	}
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MfaEnabled || user.Mfa == nil {
		return nil, ErrMfaNotEnabled
	}
	return user, nil
}

// confirmManagementCode applies the rule shared by DisableMfa and
// RegenerateBackupCodes.
func (e *Engine) confirmManagementCode(ctx context.Context, user *User, code string) error {
	now := e.now()
	var (
		ok  bool
		err error
	)
	if user.Mfa.Kind() == MfaTOTP {
		ok, _, err = e.verifyUserCode(ctx, user, code, now, false)
	} else {
		ok, _, err = e.verifyUserCode(ctx, user, code, now, true)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidMfaCode
	}
	return nil
}

func maskDestination(kind MfaKind, destination string) string {
	switch kind {
	case MfaSMS:
		return maskPhone(destination)
	case MfaEmail:
		return maskEmail(destination)
	default:
		return ""
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
