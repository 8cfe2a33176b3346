package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// check if model has expiration date
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Profile": true,
		"Shop":    true,
		"Job":     true,
	}
	return expirableTypes[typeName]
}

// RedisKey builds Type:id.
func RedisKey[T any](id string) string {
	return GetTypeName[T]() + ":" + id
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id string) error {
	typeName := GetTypeName[T]()

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(RedisKey[T](id), &obj, duration)
}

// store list, TypeList:$shop_id
func StoreRedisList[T any](obj any, shopId string) error {
	typeName := GetTypeName[T]()

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(redisListKey[T](shopId), &obj, duration)
}

func redisListKey[T any](shopId string) string {
	if shopId == "" {
		return GetTypeName[T]() + "List"
	}
	return GetTypeName[T]() + "List:" + shopId
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id string) (*T, error) {
	var result *T
	exists, err := config.GetRedisObject(RedisKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// retrieve a list.
// shopId can be empty
func RetrieveRedisList[T any](shopId string) ([]*T, error) {
	var result []*T
	exists, err := config.GetRedisObject(redisListKey[T](shopId), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList:$shop_id
func RemoveRedisList[T any](shopId string) error {
	return config.RemoveRedisKey(redisListKey[T](shopId))
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id string) error {
	return config.RemoveRedisKey(RedisKey[T](id))
}
