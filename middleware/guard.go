package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal injected by a guard.
func PrincipalFromContext(ctx context.Context) (*authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authcore.Principal)
	return p, ok
}

// WithPrincipal stores p in ctx. Guards call it; tests may too.
func WithPrincipal(ctx context.Context, p *authcore.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Authorize validates the bearer token of r and decodes its principal.
func Authorize(engine *authcore.Engine, r *http.Request) (*authcore.Principal, bool) {
	if engine == nil {
		return nil, false
	}
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok || !engine.ValidateToken(token) {
		return nil, false
	}
	p, err := engine.GetPrincipal(token)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Guard rejects requests without a valid access token.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, nil)
}

func guard(engine *authcore.Engine, allow func(*authcore.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := Authorize(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if allow != nil && !allow(p) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
