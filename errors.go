package authcore

import "errors"

// ErrorKind classifies the outcome of an authentication flow.
type ErrorKind uint8

const (
	// KindNone is the kind of a nil error.
	KindNone ErrorKind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindAccountInactive
	KindMfaRequired
	KindInvalidMfaCode
	KindChallengeExpiredOrNotFound
	KindTokenInvalidOrExpired
	// KindAuthenticationFailed is the generic failure returned when a backend
	// (store, cache, gateway) fails. Details are logged, never returned.
	KindAuthenticationFailed
	// KindConfiguration marks a fatal startup-time misconfiguration.
	KindConfiguration
)

var kindNames = [...]string{
	KindNone:                       "none",
	KindInvalidCredentials:         "invalid_credentials",
	KindAccountLocked:              "account_locked",
	KindAccountInactive:            "account_inactive",
	KindMfaRequired:                "mfa_required",
	KindInvalidMfaCode:             "invalid_mfa_code",
	KindChallengeExpiredOrNotFound: "challenge_expired_or_not_found",
	KindTokenInvalidOrExpired:      "token_invalid_or_expired",
	KindAuthenticationFailed:       "authentication_failed",
	KindConfiguration:              "configuration_error",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// AuthError is the typed failure returned by user-facing flows. The message is
// safe to show to end users.
type AuthError struct {
	Kind    ErrorKind
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	// ErrInvalidCredentials is returned when the username or password is wrong.
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials, Message: "invalid username or password"}
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = &AuthError{Kind: KindAccountLocked, Message: "account is temporarily locked"}
	// ErrAccountInactive is returned for disabled or missing accounts after credential checks.
	ErrAccountInactive = &AuthError{Kind: KindAccountInactive, Message: "account is inactive"}
	// ErrMfaRequired is used by transports that surface the MFA-required state as an error.
	ErrMfaRequired = &AuthError{Kind: KindMfaRequired, Message: "multi-factor authentication required"}
	// ErrInvalidMfaCode is returned when neither the MFA code nor a backup code matched.
	ErrInvalidMfaCode = &AuthError{Kind: KindInvalidMfaCode, Message: "invalid verification code"}
	// ErrChallengeExpiredOrNotFound covers unknown, expired, exhausted and already used challenges.
	ErrChallengeExpiredOrNotFound = &AuthError{Kind: KindChallengeExpiredOrNotFound, Message: "challenge expired or not found"}
	// ErrTokenInvalidOrExpired is returned by refresh for unknown, revoked or expired tokens.
	ErrTokenInvalidOrExpired = &AuthError{Kind: KindTokenInvalidOrExpired, Message: "token is invalid or expired"}
	// ErrAuthenticationFailed is the generic failure for backend problems.
	ErrAuthenticationFailed = &AuthError{Kind: KindAuthenticationFailed, Message: "authentication failed, please try again"}
)

var (
	// ErrConfiguration wraps every error returned by [Builder.Build] and [Config.Validate].
	ErrConfiguration = errors.New("authcore: configuration error")
	// ErrUserNotFound is returned by UserStore implementations and by caller-misuse paths.
	ErrUserNotFound = errors.New("user not found")
	// ErrMfaNotEnabled is a caller error: MFA was requested for a user without MFA.
	ErrMfaNotEnabled = errors.New("mfa not enabled for user")
	// ErrMfaFeatureDisabled is returned by MFA management calls when MFA is globally disabled.
	ErrMfaFeatureDisabled = errors.New("mfa feature disabled")
	// ErrMfaSetupInvalid is returned for unusable enrollment parameters (unknown method, missing phone).
	ErrMfaSetupInvalid = errors.New("invalid mfa setup request")
	// ErrEngineNotReady is returned when required collaborators were not wired.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// KindOf classifies err. Errors that are not [AuthError] values map to
// KindAuthenticationFailed, except configuration errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	if errors.Is(err, ErrConfiguration) {
		return KindConfiguration
	}
	return KindAuthenticationFailed
}
