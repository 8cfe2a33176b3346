package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
)

// Locker serializes mutations of one job across API instances.
type Locker interface {
	Lock(ctx context.Context, jobId string) (unlock func(), err error)
}

type RedisJobLocker struct{}

func (RedisJobLocker) Lock(ctx context.Context, jobId string) (func(), error) {
	lock, err := utils.ObtainLock(ctx, "JobMutation", jobId, "JobSynchronizer", "Lock")
	if errors.Is(err, utils.ErrLockNotObtained) {
		return nil, ErrJobBusy
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			config.LogError(config.GetLogger(), "JobSynchronizer", "Unlock", "release job lock", jobId, err)
		}
	}, nil
}
