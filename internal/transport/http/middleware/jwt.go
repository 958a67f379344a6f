package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"foodlabel-analyzer/internal/pkg/jwtutil"
	"foodlabel-analyzer/internal/transport/http/response"
)

const ContextClientIDKey = "client_id"

// AuthJWT requires a bearer token signed with secret. An empty secret disables auth.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextClientIDKey, claims.ClientID)
		c.Next()
	}
}
