package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type shopReader struct {
	db *gorm.DB
}

func (r *shopReader) getShops(ctx context.Context, ids []string) []*dataloader.Result[*models.Shop] {
	var results []models.Shop
	err := r.db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&results).Error
	if err != nil {
		return handleError[*models.Shop](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetShop(ctx context.Context, id string) (*models.Shop, error) {
	loaders := For(ctx)
	return loaders.shopLoader.Load(ctx, id)()
}
