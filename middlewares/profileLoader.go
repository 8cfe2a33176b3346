package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type profileReader struct {
	db *gorm.DB
}

func (r *profileReader) getProfiles(ctx context.Context, ids []string) []*dataloader.Result[*models.Profile] {
	profiles, err := models.GetProfilesByIds(ctx, ids)
	if err != nil {
		return handleError[*models.Profile](len(ids), err)
	}
	results := make([]models.Profile, 0, len(profiles))
	for _, p := range profiles {
		results = append(results, *p)
	}
	return generateLoaderResults(results, ids)
}

func GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	loaders := For(ctx)
	return loaders.profileLoader.Load(ctx, id)()
}

func GetProfiles(ctx context.Context, ids []string) ([]*models.Profile, []error) {
	loaders := For(ctx)
	return loaders.profileLoader.LoadMany(ctx, ids)()
}
