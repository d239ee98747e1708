package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
)

// GenerateAccessToken signs an access token for user carrying its roles and
// the permissions reported by the user store.
func (e *Engine) GenerateAccessToken(ctx context.Context, user *User) (string, time.Time, error) {
	if err := e.ready(); err != nil {
		return "", time.Time{}, err
	}
	if user == nil || user.ID == "" {
		return "", time.Time{}, ErrUserNotFound
	}

	perms, err := e.users.GetPermissions(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, e.backendFailure("get permissions", err)
	}

	token, exp, err := e.jwtManager.Issue(jwt.Identity{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       user.Roles,
		Permissions: perms,
	})
	if err != nil {
		return "", time.Time{}, e.backendFailure("sign access token", err)
	}
	return token, exp, nil
}

// issueTokens mints an access token and stores a fresh refresh token.
func (e *Engine) issueTokens(ctx context.Context, user *User, now time.Time) (*AuthResult, error) {
	access, exp, err := e.GenerateAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	refresh, err := stores.NewRefreshToken()
	if err != nil {
		return nil, e.backendFailure("generate refresh token", err)
	}
	if err := e.refresh.Save(ctx, refresh, user.ID, now, e.config.JWT.RefreshTTL); err != nil {
		return nil, e.backendFailure("save refresh token", err)
	}

	return &AuthResult{
		User:                 userInfo(user),
		AccessToken:          access,
		AccessTokenExpiresAt: exp,
		RefreshToken:         refresh,
	}, nil
}

// RefreshToken exchanges a refresh token for a new access token and a new
// refresh token. The presented token is revoked in the same step that stores
// its successor, so it never validates again.
func (e *Engine) RefreshToken(ctx context.Context, presented string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()

	rec, err := e.refresh.Get(ctx, presented, now)
	if err != nil {
		return nil, e.refreshFailure(ctx, "", err)
	}

	user, err := e.users.GetUserByID(ctx, rec.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, e.backendFailure("get user", err)
	}
	if user == nil || !user.Active {
		if _, rerr := e.refresh.Revoke(ctx, presented); rerr != nil {
			e.logf("authcore: revoke refresh token of inactive user %s: %v", rec.UserID, rerr)
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditActionTokenRefreshFailed, AuditWarning, false, rec.UserID, auditEntityToken, rec.UserID, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	next, err := stores.NewRefreshToken()
	if err != nil {
		return nil, e.backendFailure("generate refresh token", err)
	}
	if err := e.refresh.Rotate(ctx, presented, next, user.ID, now, e.config.JWT.RefreshTTL); err != nil {
		return nil, e.refreshFailure(ctx, user.ID, err)
	}

	access, exp, err := e.GenerateAccessToken(ctx, user)
	if err != nil {
		if _, rerr := e.refresh.Revoke(ctx, next); rerr != nil {
			e.logf("authcore: revoke unissued refresh token for %s: %v", user.ID, rerr)
		}
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditActionTokenRefreshed, AuditInfo, true, user.ID, auditEntityToken, user.ID, nil, nil)

	return &AuthResult{
		User:                 userInfo(user),
		AccessToken:          access,
		AccessTokenExpiresAt: exp,
		RefreshToken:         next,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, userID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrRefreshNotFound),
		errors.Is(err, stores.ErrRefreshExpired),
		errors.Is(err, stores.ErrRefreshRevoked):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditActionTokenRefreshFailed, AuditWarning, false, userID, auditEntityToken, userID, ErrTokenInvalidOrExpired, func() map[string]string {
			return map[string]string{"reason": err.Error()}
		})
		return ErrTokenInvalidOrExpired
	default:
		return e.backendFailure("refresh token", err)
	}
}

// ValidateToken reports whether token is a well-signed access token from
// this issuer for this audience that has not expired.
func (e *Engine) ValidateToken(token string) bool {
	if e == nil || e.jwtManager == nil || token == "" {
		return false
	}
	_, err := e.jwtManager.Parse(token)
	return err == nil
}

// GetPrincipal decodes an access token without checking its lifetime. The
// signature, issuer and audience are still verified. It is meant for
// diagnostics; use ValidateToken to authorize requests.
func (e *Engine) GetPrincipal(token string) (*Principal, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseIgnoringLifetime(token)
	if err != nil {
		return nil, ErrTokenInvalidOrExpired
	}
	return principalFromClaims(claims), nil
}

func principalFromClaims(c *jwt.AccessClaims) *Principal {
	p := &Principal{
		UserID:      c.Subject,
		Username:    c.Name,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// RevokeToken revokes a refresh token. It returns true for any known token,
// including one that was already revoked, and false for unknown tokens or
// backend failures.
func (e *Engine) RevokeToken(ctx context.Context, refreshToken string) bool {
	if e.ready() != nil {
		return false
	}
	known, err := e.refresh.Revoke(ctx, refreshToken)
	if err != nil {
		e.logf("authcore: revoke refresh token: %v", err)
		e.metricInc(MetricBackendFailure)
		return false
	}
	if known {
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, AuditActionTokenRevoked, AuditInfo, true, "", auditEntityToken, "", nil, nil)
	}
	return known
}

// RevokeAllForUser revokes every live refresh token of userID and returns
// how many were revoked.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, e.backendFailure("revoke all refresh tokens", err)
	}
	e.emitAudit(ctx, AuditActionTokensRevokedByUser, AuditSecurity, true, userID, auditEntityToken, userID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}
