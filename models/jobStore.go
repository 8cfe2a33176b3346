package models

import (
	"context"
	"errors"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"gorm.io/gorm"
)

/*
caches:
	Job:$id         CachedJob
	JobPending:$id  JobStatus waiting on a precondition (final cost)
*/

const JobCollection = "jobs"

func init() {
	config.RegisterShopScopedTable(JobCollection)
}

func (Job) CollectionName() string { return JobCollection }
func (j Job) RecordId() string     { return j.ID }
func (j Job) RecordShopId() string { return j.GetShopId() }

// JobStore is the gorm-backed job collection. Every write commits the job row
// and its outbox events together, then announces the change on redis.
type JobStore struct{}

func NewJobStore() *JobStore {
	return &JobStore{}
}

func (s *JobStore) Insert(ctx context.Context, job *Job, events ...DomainEvent) error {
	return InsertRecord(ctx, job, RecordDomainEvents(events...), jobHistory(events))
}

func (s *JobStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, events ...DomainEvent) error {
	return UpdateRecordFields[Job](ctx, id, fields, RecordDomainEvents(events...), jobHistory(events))
}

func (s *JobStore) Delete(ctx context.Context, id string, events ...DomainEvent) error {
	return DeleteRecord[Job](ctx, id, RecordDomainEvents(events...), jobHistory(events))
}

// jobHistory audits every lifecycle event in the write's transaction.
func jobHistory(events []DomainEvent) TxHook {
	return func(tx *gorm.DB) error {
		for _, ev := range events {
			var description string
			switch ev.Action {
			case EventActionJobCreated:
				description = "created job"
			case EventActionJobDeleted:
				description = "deleted job"
			default:
				description = string(ev.Action)
				if after, ok := ev.After.(*Job); ok && after != nil {
					description = "changed status to " + string(after.Status)
				}
			}
			if err := createHistory(tx, string(ev.Action), ev.ReferenceId, string(EventReferenceJob), ev.Before, ev.After, description); err != nil {
				return err
			}
		}
		return nil
	}
}

// Fetch returns utils.ErrorRecordNotFound when the job is missing or outside the caller's scope.
func (s *JobStore) Fetch(ctx context.Context, id string) (*Job, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not ready")
	}
	var job Job
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) Subscribe(ctx context.Context, id string, fn func(ChangeEvent)) (io.Closer, error) {
	sub := SubscribeChanges(ctx, JobCollection, func(ev ChangeEvent) bool {
		return ev.ID == id
	}, fn)
	return sub, nil
}

// JobFilter narrows a job listing.
type JobFilter struct {
	ShopId      *string
	Status      *JobStatus
	ServiceType *ServiceType
	CreatedBy   *string
	From        *time.Time
	To          *time.Time
	After       *string
	Limit       int
}

type JobConnection struct {
	Jobs     []*Job   `json:"jobs"`
	PageInfo PageInfo `json:"page_info"`
}

// ListJobs returns jobs newest first. A shop listing only includes jobs whose
// creator holds an approved membership in that shop.
func ListJobs(ctx context.Context, filter JobFilter) (*JobConnection, error) {
	db := config.GetDB()
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	dbCtx := db.WithContext(ctx).Model(&Job{})
	if filter.ShopId != nil && *filter.ShopId != "" {
		approved := db.Model(&ShopMembership{}).Select("profile_id").
			Where("shop_id = ? AND status = ?", *filter.ShopId, MembershipStatusApproved)
		dbCtx = dbCtx.Where("jobs.shop_id = ? AND jobs.created_by IN (?)", *filter.ShopId, approved)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.ServiceType != nil {
		dbCtx = dbCtx.Where("service_type = ?", *filter.ServiceType)
	}
	if filter.CreatedBy != nil {
		dbCtx = dbCtx.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.From != nil {
		dbCtx = dbCtx.Where("date_created >= ?", *filter.From)
	}
	if filter.To != nil {
		dbCtx = dbCtx.Where("date_created <= ?", *filter.To)
	}
	if filter.After != nil && *filter.After != "" {
		createdAt, id := DecodeCompositeCursor(filter.After)
		if createdAt != "" {
			dbCtx = dbCtx.Where("(date_created < ?) OR (date_created = ? AND id < ?)", createdAt, createdAt, id)
		}
	}

	var jobs []*Job
	if err := dbCtx.Order("date_created DESC").Order("id DESC").Limit(limit + 1).Find(&jobs).Error; err != nil {
		return nil, err
	}

	hasNext := len(jobs) > limit
	if hasNext {
		jobs = jobs[:limit]
	}
	conn := &JobConnection{Jobs: jobs, PageInfo: PageInfo{HasNextPage: &hasNext}}
	if len(jobs) > 0 {
		first, last := jobs[0], jobs[len(jobs)-1]
		conn.PageInfo.StartCursor = EncodeCompositeCursor(first.DateCreated.UTC().Format(time.RFC3339Nano), first.ID)
		conn.PageInfo.EndCursor = EncodeCompositeCursor(last.DateCreated.UTC().Format(time.RFC3339Nano), last.ID)
	}
	return conn, nil
}

// SyncState tracks an optimistic cache write against the database.
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateConfirmed SyncState = "confirmed"
	// SyncStateDiverged: the database write failed and the optimistic value was kept.
	SyncStateDiverged SyncState = "diverged"
)

// CachedJob is the local copy of a job plus the state of its last mutation.
type CachedJob struct {
	Job        *Job      `json:"job"`
	State      SyncState `json:"state"`
	MutationId string    `json:"mutation_id,omitempty"`
	Mutation   string    `json:"mutation,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
}

// RedisJobCache keeps CachedJob entries and pending transitions in redis.
type RedisJobCache struct {
	ttl time.Duration
}

func NewRedisJobCache() *RedisJobCache {
	return &RedisJobCache{ttl: utils.GetCacheLifespan()}
}

func jobCacheKey(id string) string   { return "Job:" + id }
func jobPendingKey(id string) string { return "JobPending:" + id }

func (c *RedisJobCache) Get(ctx context.Context, id string) (*CachedJob, error) {
	var entry CachedJob
	exists, err := config.GetRedisObject(jobCacheKey(id), &entry)
	if err != nil || !exists {
		return nil, err
	}
	return &entry, nil
}

func (c *RedisJobCache) Put(ctx context.Context, entry *CachedJob) error {
	entry.CachedAt = time.Now().UTC()
	return config.SetRedisObject(jobCacheKey(entry.Job.ID), entry, c.ttl)
}

func (c *RedisJobCache) Remove(ctx context.Context, id string) error {
	return config.RemoveRedisKey(jobCacheKey(id), jobPendingKey(id))
}

func (c *RedisJobCache) SetPendingTransition(ctx context.Context, id string, status JobStatus) error {
	return config.SetRedisValue(jobPendingKey(id), string(status), c.ttl)
}

func (c *RedisJobCache) PendingTransition(ctx context.Context, id string) (JobStatus, bool, error) {
	v, ok, err := config.GetRedisValue(jobPendingKey(id))
	if err != nil || !ok {
		return "", false, err
	}
	return JobStatus(v), true, nil
}

func (c *RedisJobCache) ClearPendingTransition(ctx context.Context, id string) error {
	return config.RemoveRedisKey(jobPendingKey(id))
}
