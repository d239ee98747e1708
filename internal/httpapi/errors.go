package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps an engine error onto a status code and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, authcore.ErrMfaNotEnabled):
		return http.StatusConflict, "mfa_not_enabled"
	case errors.Is(err, authcore.ErrMfaFeatureDisabled):
		return http.StatusForbidden, "mfa_disabled"
	case errors.Is(err, authcore.ErrMfaSetupInvalid):
		return http.StatusBadRequest, "invalid_mfa_setup"
	}

	kind := authcore.KindOf(err)
	switch kind {
	case authcore.KindInvalidCredentials, authcore.KindInvalidMfaCode, authcore.KindTokenInvalidOrExpired:
		return http.StatusUnauthorized, kind.String()
	case authcore.KindChallengeExpiredOrNotFound:
		return http.StatusGone, kind.String()
	case authcore.KindAccountLocked:
		return http.StatusLocked, kind.String()
	case authcore.KindAccountInactive:
		return http.StatusForbidden, kind.String()
	case authcore.KindMfaRequired:
		return http.StatusUnauthorized, kind.String()
	default:
		return http.StatusServiceUnavailable, authcore.KindAuthenticationFailed.String()
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		s.logf("httpapi: %s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = authcore.ErrAuthenticationFailed.Message
	}
	c.AbortWithStatusJSON(status, errorBody{Error: code, Message: msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
}
