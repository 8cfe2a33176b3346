package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
)

// Caller is the authenticated identity a job operation runs for.
type Caller struct {
	ID     string
	Email  string
	Name   string
	Role   models.UserRole
	ShopId string
}

func (c Caller) IsAdmin() bool {
	return c.Role == models.UserRoleAdmin
}

// CallerFromContext reads the session identity put in ctx by the session middleware.
func CallerFromContext(ctx context.Context) (*Caller, error) {
	id, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	c := &Caller{ID: id}
	c.Email, _ = utils.GetEmailFromContext(ctx)
	c.Name, _ = utils.GetUserNameFromContext(ctx)
	c.ShopId, _ = utils.GetShopIdFromContext(ctx)
	role, _ := utils.GetRoleFromContext(ctx)
	c.Role = models.UserRole(role)
	return c, nil
}

// canSee mirrors the shop guard for jobs served from the cache.
func (c *Caller) canSee(job *models.Job) bool {
	if c == nil || job == nil {
		return false
	}
	if c.IsAdmin() || job.CreatedBy == c.ID {
		return true
	}
	return c.ShopId != "" && job.GetShopId() == c.ShopId
}
