package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// AdminRole may unlock accounts and revoke other users' tokens.
const AdminRole = "admin"

const principalKey = "authcore.principal"

// Server holds the engine behind the routes.
type Server struct {
	engine  *authcore.Engine
	metrics http.Handler
	logf    func(string, ...any)
}

// Options tunes [NewRouter]. A nil Metrics handler leaves /metrics unmounted.
type Options struct {
	Metrics http.Handler
	Logger  *log.Logger
}

// NewRouter builds the gin engine serving the authcore API.
func NewRouter(engine *authcore.Engine, opts Options) *gin.Engine {
	s := &Server{engine: engine, metrics: opts.Metrics, logf: log.Printf}
	if opts.Logger != nil {
		s.logf = opts.Logger.Printf
	}

	r := gin.New()
	r.Use(gin.Recovery(), clientContext())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/login", s.login)
		auth.POST("/mfa/challenge", s.verifyChallenge)
		auth.POST("/refresh", s.refresh)
		auth.POST("/revoke", s.revoke)

		me := v1.Group("/me", s.requireToken())
		me.GET("", s.me)
		me.POST("/mfa", s.setupMfa)
		me.DELETE("/mfa", s.disableMfa)
		me.POST("/mfa/backup-codes", s.regenerateBackupCodes)
		me.POST("/logout-all", s.logoutAll)

		admin := v1.Group("/admin", s.requireToken(), requireRole(AdminRole))
		admin.POST("/unlock", s.unlock)
		admin.POST("/lockouts/clear", s.clearLockouts)
		admin.POST("/users/:id/revoke", s.revokeUser)
	}
	return r
}

// clientContext forwards the client address and user agent to audit entries.
func clientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = authcore.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.Authorize(s.engine, c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing or invalid access token"})
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(middleware.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		for _, r := range p.Roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "forbidden", Message: "missing role " + role})
	}
}

func principal(c *gin.Context) *authcore.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(*authcore.Principal)
	if p == nil {
		return &authcore.Principal{}
	}
	return p
}
