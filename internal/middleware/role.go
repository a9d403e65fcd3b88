package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/tubecast/backend/internal/models"
	"github.com/tubecast/backend/pkg/response"
)

// UserRole returns the role set by JWT, or "" for anonymous requests.
func UserRole(c *gin.Context) models.Role {
	role, _ := c.Get(ContextUserRole)
	s, _ := role.(string)
	return models.Role(s)
}

// RequireRole admits only authenticated users holding one of roles. Must run
// after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := UserRole(c)
		if role == "" {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !slices.Contains(roles, role) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
