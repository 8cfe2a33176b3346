package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/gin-gonic/gin"
)

// requestToken reads the session token from the token header, falling back
// to an Authorization bearer token.
func requestToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.Request.Header.Get("token")); token != "" {
		return token
	}
	auth := c.Request.Header.Get("Authorization")
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	// EventSource cannot set headers
	return strings.TrimSpace(c.Query("token"))
}

// RequireSession rejects anonymous requests.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetProfileIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole lets through signed-in profiles having one of roles.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, ok := utils.GetProfileIdFromContext(ctx); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		role, _ := utils.GetRoleFromContext(ctx)
		for _, r := range roles {
			if models.UserRole(role) == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}
