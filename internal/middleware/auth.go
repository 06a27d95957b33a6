package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// BearerToken returns the token from "Authorization: Bearer <token>", or the
// token query parameter for clients such as EventSource that cannot set headers.
func BearerToken(c *gin.Context, allowQuery bool) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// AuthRequired validates the access token and runs the rest of the request
// as the token's user, both on the gin context and on the request context
// the document rules read.
func AuthRequired() gin.HandlerFunc {
	return authenticate(false)
}

// StreamAuthRequired is AuthRequired that also accepts ?token=.
func StreamAuthRequired() gin.HandlerFunc {
	return authenticate(true)
}

func authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" && (!allowQuery || c.Query("token") == "") {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		tokenString := BearerToken(c, allowQuery)
		if tokenString == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Request = c.Request.WithContext(rules.UserContext(c.Request.Context(), claims.UserID, claims.Role))

		c.Next()
	}
}

// AdminRequired rejects callers without the admin role
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != models.RoleAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(ContextUserID); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		if s, ok := username.(string); ok {
			return s
		}
	}
	return ""
}

// GetRole gets the current user role from context
func GetRole(c *gin.Context) string {
	if role, exists := c.Get(ContextRole); exists {
		if s, ok := role.(string); ok {
			return s
		}
	}
	return ""
}
