package middlewares

import (
	"context"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the profile and shop lookups a request makes while building
// its responses (authors of replies, senders of messages, members of a shop).
type Loaders struct {
	profileLoader *dataloader.Loader[string, *models.Profile]
	shopLoader    *dataloader.Loader[string, *models.Shop]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	profileReader := &profileReader{db: conn}
	shopReader := &shopReader{db: conn}

	return &Loaders{
		profileLoader: dataloader.NewBatchedLoader(profileReader.getProfiles, dataloader.WithWait[string, *models.Profile](time.Millisecond)),
		shopLoader:    dataloader.NewBatchedLoader(shopReader.getShops, dataloader.WithWait[string, *models.Shop](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or a fresh set outside of a request.
func For(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return l
	}
	return NewLoaders(config.GetDB())
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns results from db into dataloader results, in the order of ids;
// missing ids get the type's default placeholder
func generateLoaderResults[T models.Data](results []T, ids []string) []*dataloader.Result[*T] {
	resultMap := make(map[string]T, len(results))
	for _, result := range results {
		resultMap[result.GetId()] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data := resultMap[id]
		if reflect.ValueOf(data).IsZero() {
			data = data.GetDefault(id).(T)
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}
