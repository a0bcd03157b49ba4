package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
	"bitbucket.org/capitalexpress/operaciones_backend/utils"
)

// SessionData is what the auth frontend stores in Redis per issued token.
type SessionData struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionMiddleware resolves the token header against the Redis session store
// and stamps the user's identity and role on the request context. Requests
// without a token pass through anonymous; handlers that need a user enforce it
// themselves.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session SessionData
		exists, err := config.GetRedisObject("Token:"+token, &session)
		if err != nil || !exists || session.Email == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		role := "ventas"
		if usuario, err := models.GetUsuarioByEmail(c.Request.Context(), session.Email); err == nil && usuario != nil {
			role = usuario.Rol
			if session.Name == "" {
				session.Name = usuario.Nombre
			}
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUserEmail, session.Email)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, session.Name)
		ctx = context.WithValue(ctx, utils.ContextKeyUserRole, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationIdMiddleware propagates the caller's correlation id, minting one
// when absent, so a submission can be traced across services.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyCorrelationId, correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Correlation-Id", correlationId)
		c.Next()
	}
}

// RequireUser aborts with 401 when the session middleware did not put a user
// on the context.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserEmailFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
