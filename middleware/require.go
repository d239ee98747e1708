package middleware

import (
	"net/http"
	"slices"

	"github.com/MrEthical07/authcore"
)

// RequirePermission rejects tokens without permission with 403.
func RequirePermission(engine *authcore.Engine, permission string) func(http.Handler) http.Handler {
	return guard(engine, func(p *authcore.Principal) bool {
		return slices.Contains(p.Permissions, permission)
	})
}

// RequireRole rejects tokens that do not carry role with 403.
func RequireRole(engine *authcore.Engine, role string) func(http.Handler) http.Handler {
	return guard(engine, func(p *authcore.Principal) bool {
		return slices.Contains(p.Roles, role)
	})
}
