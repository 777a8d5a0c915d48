package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-api/internal/authz"
	"github.com/jwalitptl/account-api/internal/handler"
	"github.com/jwalitptl/account-api/internal/model"
	"github.com/jwalitptl/account-api/internal/session"
)

const ContextPrincipal = "principal"

type AuthMiddleware struct {
	sessions *session.Manager
	engine   *authz.Engine
}

func NewAuthMiddleware(sessions *session.Manager, engine *authz.Engine) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		engine:   engine,
	}
}

// Authenticate requires an authenticated session whose token matches
// the request's bearer token, and sets the principal in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		if m.sessions.State() != model.StateAuthenticated || parts[1] != m.sessions.Token() {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid or expired session"))
			c.Abort()
			return
		}

		c.Set(ContextPrincipal, m.sessions.Principal())
		c.Next()
	}
}

// RequireRole checks the principal against the role hierarchy.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := c.Get(ContextPrincipal)
		account, ok := principal.(*model.Account)
		if !ok || !m.engine.CanAccessRole(account, role) {
			c.JSON(http.StatusForbidden, handler.NewErrorResponse("permission denied"))
			c.Abort()
			return
		}
		c.Next()
	}
}
