package config

import (
	"os"
	"strconv"
	"strings"
)

// JobMinStartPhotos is the number of start photos required before a job can
// move to in-progress.
//
// Set via env:
// - JOB_MIN_START_PHOTOS (default 3)
func JobMinStartPhotos() int {
	return positiveIntFromEnv("JOB_MIN_START_PHOTOS", 3)
}

// JobMinCompletionPhotos is the number of completion photos required before a
// job can be completed.
//
// Set via env:
// - JOB_MIN_COMPLETION_PHOTOS (default 3)
func JobMinCompletionPhotos() int {
	return positiveIntFromEnv("JOB_MIN_COMPLETION_PHOTOS", 3)
}

// JobCacheRollback reverts optimistic cache writes when the database write fails.
// When disabled the cache keeps the optimistic value until the next refresh.
//
// Set via env:
// - JOB_CACHE_ROLLBACK=true (default false)
func JobCacheRollback() bool {
	return boolFromEnv("JOB_CACHE_ROLLBACK", false)
}

// OutboxDispatcherEnabled toggles the notification outbox dispatcher loop.
//
// Set via env:
// - OUTBOX_DISPATCHER_ENABLED=false (default true)
func OutboxDispatcherEnabled() bool {
	return boolFromEnv("OUTBOX_DISPATCHER_ENABLED", true)
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

func positiveIntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
