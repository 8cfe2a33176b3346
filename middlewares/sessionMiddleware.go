package middlewares

import (
	"context"
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the session token to a profile and puts its
// identity (id, name, email, role, current shop) on the request context.
// Requests without a token pass through anonymous.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			c.Next()
			return
		}
		profile, err := models.GetSessionProfile(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, utils.ErrorUnauthorized) {
				config.LogError(config.GetLogger(), "Middleware", "SessionMiddleware", "resolve session", nil, err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(withProfile(c.Request.Context(), token, profile))
		c.Next()
	}
}

func withProfile(ctx context.Context, token string, profile *models.Profile) context.Context {
	ctx = utils.SetTokenInContext(ctx, token)
	ctx = utils.SetProfileIdInContext(ctx, profile.ID)
	ctx = utils.SetUserNameInContext(ctx, profile.Name)
	ctx = utils.SetEmailInContext(ctx, profile.Email)
	ctx = utils.SetRoleInContext(ctx, string(profile.Role))
	ctx = utils.SetIsAdminInContext(ctx, profile.Role == models.UserRoleAdmin)
	if shopId := profile.GetShopId(); shopId != "" {
		ctx = utils.SetShopIdInContext(ctx, shopId)
	}
	return ctx
}
