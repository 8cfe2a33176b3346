package models

import (
	"context"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
)

// GetResource reads through the Type:id redis cache, falling back to the db
// and caching the row. prepare runs on db rows before they are cached.
// (returns utils.ErrorRecordNotFound when missing)
func GetResource[T any](ctx context.Context, id string, prepare ...func(*T)) (*T, error) {
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	db := config.GetDB()
	var row T
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	for _, fn := range prepare {
		fn(&row)
	}
	if err := utils.StoreRedis[T](&row, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListAllResource lists every row of a model through the list cache.
// Callers must clear the list with utils.RemoveRedisList on writes.
func ListAllResource[T any](ctx context.Context, orders ...string) ([]*T, error) {
	results, err := utils.RetrieveRedisList[T]("")
	if err != nil {
		return nil, err
	}
	if results != nil {
		return results, nil
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(new(T))
	for _, order := range orders {
		dbCtx = dbCtx.Order(order)
	}
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	if err := utils.StoreRedisList[T](results, ""); err != nil {
		return nil, err
	}
	return results, nil
}
