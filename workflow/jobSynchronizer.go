package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// JobGateway is the source of truth for jobs. Writes carry the domain events
// to record with them.
type JobGateway interface {
	Insert(ctx context.Context, job *models.Job, events ...models.DomainEvent) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}, events ...models.DomainEvent) error
	Delete(ctx context.Context, id string, events ...models.DomainEvent) error
	Fetch(ctx context.Context, id string) (*models.Job, error)
	Subscribe(ctx context.Context, id string, fn func(models.ChangeEvent)) (io.Closer, error)
}

// JobCache is the local fast path in front of the gateway.
type JobCache interface {
	Get(ctx context.Context, id string) (*models.CachedJob, error)
	Put(ctx context.Context, entry *models.CachedJob) error
	Remove(ctx context.Context, id string) error
	SetPendingTransition(ctx context.Context, id string, status models.JobStatus) error
	PendingTransition(ctx context.Context, id string) (models.JobStatus, bool, error)
	ClearPendingTransition(ctx context.Context, id string) error
}

type PhotoStore interface {
	Remove(ctx context.Context, ref string) error
}

// Confirmer asks the user twice before a job is deleted.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, job *models.Job) bool
	ConfirmDeleteAgain(ctx context.Context, job *models.Job) bool
}

type JobSynchronizer struct {
	Gateway      JobGateway
	Cache        JobCache
	Photos       PhotoStore
	Locker       Locker
	Logger       *logrus.Logger
	Tracer       trace.Tracer
	Requirements Requirements
	// Rollback restores the cached snapshot when a gateway write fails.
	Rollback bool
	Now      func() time.Time
}

func NewJobSynchronizer(gateway JobGateway, cache JobCache, photos PhotoStore) *JobSynchronizer {
	return &JobSynchronizer{
		Gateway:      gateway,
		Cache:        cache,
		Photos:       photos,
		Locker:       RedisJobLocker{},
		Logger:       config.GetLogger(),
		Tracer:       otel.Tracer("motoshop"),
		Requirements: DefaultRequirements(),
		Rollback:     config.JobCacheRollback(),
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// MutationResult describes an applied mutation.
type MutationResult struct {
	Job           *models.Job
	From          models.JobStatus
	To            models.JobStatus
	StatusChanged bool
	PhotoCount    int
	RemovedRef    string
	// set by UpdateCosts when a completion waiting for the final cost was retried
	RetriedTransition bool
	RetryErr          error
}

type change struct {
	fields map[string]interface{}
	action models.EventAction
	result MutationResult
}

func (s *JobSynchronizer) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *JobSynchronizer) startSpan(ctx context.Context, op string, id string) (context.Context, trace.Span) {
	tracer := s.Tracer
	if tracer == nil {
		tracer = otel.Tracer("motoshop")
	}
	return tracer.Start(ctx, "JobSynchronizer."+op, trace.WithAttributes(
		attribute.String("job.id", id),
		attribute.String("job.mutation", op),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func authorName(c *Caller) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	}
	return c.ID
}

func (s *JobSynchronizer) transitionContext(c *Caller) TransitionContext {
	return TransitionContext{Author: authorName(c), Now: s.now(), Requirements: s.Requirements}
}

func (s *JobSynchronizer) putCache(ctx context.Context, job *models.Job, state models.SyncState, mutationId string, op string) {
	if s.Cache == nil {
		return
	}
	entry := &models.CachedJob{Job: job, State: state, MutationId: mutationId, Mutation: op}
	if err := s.Cache.Put(ctx, entry); err != nil {
		config.LogError(s.Logger, "JobSynchronizer", "putCache", "cache write failed", job.ID, err)
	}
}

func (s *JobSynchronizer) removeCache(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Remove(ctx, id); err != nil {
		config.LogError(s.Logger, "JobSynchronizer", "removeCache", "cache remove failed", id, err)
	}
}

func (s *JobSynchronizer) fetch(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Gateway.Fetch(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) || (err == nil && job == nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, &RemoteFailureError{Op: "fetch", Err: err}
	}
	return job, nil
}

// current returns the caller's working copy: the cached job, else the stored one.
func (s *JobSynchronizer) current(ctx context.Context, caller *Caller, id string) (*models.Job, error) {
	if s.Cache != nil {
		entry, err := s.Cache.Get(ctx, id)
		if err != nil {
			config.LogError(s.Logger, "JobSynchronizer", "current", "cache read failed", id, err)
		} else if entry != nil && entry.Job != nil {
			if !caller.canSee(entry.Job) {
				return nil, ErrJobNotFound
			}
			return entry.Job.Clone(), nil
		}
	}
	job, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.canSee(job) {
		return nil, ErrJobNotFound
	}
	s.putCache(ctx, job, models.SyncStateConfirmed, "", "load")
	return job.Clone(), nil
}

func (s *JobSynchronizer) lock(ctx context.Context, id string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	return s.Locker.Lock(ctx, id)
}

// remoteFailed reconciles the cache after a failed gateway write. before is
// nil for inserts.
func (s *JobSynchronizer) remoteFailed(ctx context.Context, op string, before, after *models.Job, mutationId string, err error) error {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		s.removeCache(ctx, after.ID)
		return ErrJobNotFound
	}
	config.LogError(s.Logger, "JobSynchronizer", op, "remote write failed", after.ID, err)
	if s.Rollback {
		if before == nil {
			s.removeCache(ctx, after.ID)
		} else {
			s.putCache(ctx, before, models.SyncStateConfirmed, mutationId, op)
		}
	} else {
		s.putCache(ctx, after, models.SyncStateDiverged, mutationId, op)
	}
	return &RemoteFailureError{Op: op, Err: err, RolledBack: s.Rollback}
}

func (s *JobSynchronizer) jobEvent(action models.EventAction, caller *Caller, before, after *models.Job) models.DomainEvent {
	ev := models.DomainEvent{
		ReferenceType: models.EventReferenceJob,
		Action:        action,
		ActorId:       caller.ID,
	}
	if before != nil {
		ev.ReferenceId, ev.ShopId, ev.Before = before.ID, before.GetShopId(), before
	}
	if after != nil {
		ev.ReferenceId, ev.ShopId, ev.After = after.ID, after.GetShopId(), after
	}
	return ev
}

// mutate runs one optimistic mutation: validate, write the cache, write the
// gateway, then confirm or reconcile the cache.
func (s *JobSynchronizer) mutate(ctx context.Context, caller *Caller, id string, op string, fn func(job *models.Job) (*change, error)) (res *MutationResult, err error) {
	ctx, span := s.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	if caller == nil {
		return nil, utils.ErrorUnauthorized
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.current(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	ch, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	result := ch.result
	result.From, result.To = current.Status, current.Status
	if len(ch.fields) == 0 {
		result.Job = current
		return &result, nil
	}

	next := current.Clone()
	next.ApplyFields(ch.fields)
	next.UpdatedAt = s.now()
	if err := next.CheckInvariants(s.Requirements.MinCompletionPhotos); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	mutationId := uuid.NewString()
	s.putCache(ctx, next, models.SyncStatePending, mutationId, op)

	var events []models.DomainEvent
	if ch.action != "" {
		events = append(events, s.jobEvent(ch.action, caller, current, next))
	}
	if err := s.Gateway.UpdateFields(ctx, id, ch.fields, events...); err != nil {
		return nil, s.remoteFailed(ctx, op, current, next, mutationId, err)
	}
	s.putCache(ctx, next, models.SyncStateConfirmed, mutationId, op)

	result.Job = next
	result.To = next.Status
	result.StatusChanged = current.Status != next.Status
	return &result, nil
}

// CreateJob stores a new pending job in the caller's shop. Only admins may
// file a job into another shop.
func (s *JobSynchronizer) CreateJob(ctx context.Context, caller *Caller, input *models.NewJob) (job *models.Job, err error) {
	ctx, span := s.startSpan(ctx, "create", "")
	defer func() { endSpan(span, err) }()

	if caller == nil {
		return nil, utils.ErrorUnauthorized
	}
	if input == nil {
		return nil, &ValidationError{Message: "job input is required"}
	}
	if !caller.IsAdmin() || input.ShopId == nil {
		input.ShopId = nil
		if caller.ShopId != "" {
			shopId := caller.ShopId
			input.ShopId = &shopId
		}
	}
	job, err = models.BuildJob(input, caller.ID, authorName(caller), s.now())
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	span.SetAttributes(attribute.String("job.id", job.ID))

	mutationId := uuid.NewString()
	s.putCache(ctx, job, models.SyncStatePending, mutationId, "create")
	if err := s.Gateway.Insert(ctx, job, s.jobEvent(models.EventActionJobCreated, caller, nil, job)); err != nil {
		return nil, s.remoteFailed(ctx, "create", nil, job, mutationId, err)
	}
	s.putCache(ctx, job, models.SyncStateConfirmed, mutationId, "create")
	return job, nil
}

func (s *JobSynchronizer) AddNote(ctx context.Context, caller *Caller, id string, text string) (*MutationResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Field: "text", Message: "note text is required"}
	}
	return s.mutate(ctx, caller, id, "add_note", func(job *models.Job) (*change, error) {
		notes := append(append([]models.Note{}, job.NoteList()...), models.Note{
			Text:      text,
			Timestamp: s.now(),
			Author:    authorName(caller),
		})
		return &change{fields: map[string]interface{}{"notes": datatypes.NewJSONType(notes)}}, nil
	})
}

// AddPhoto appends a photo reference. Reaching the start minimum while pending
// moves the job to in-progress in the same write; StatusChanged reports it.
func (s *JobSynchronizer) AddPhoto(ctx context.Context, caller *Caller, id string, kind models.PhotoKind, ref string) (*MutationResult, error) {
	return s.mutate(ctx, caller, id, "add_photo", func(job *models.Job) (*change, error) {
		set, count, err := AddPhoto(job.PhotoSet(), kind, ref)
		if err != nil {
			return nil, err
		}
		ch := &change{
			fields: map[string]interface{}{"photos": datatypes.NewJSONType(set)},
			result: MutationResult{PhotoCount: count},
		}
		if kind == models.PhotoKindStart && job.Status == models.JobStatusPending && count >= s.Requirements.MinStartPhotos {
			staged := job.Clone()
			staged.Photos = datatypes.NewJSONType(set)
			plan, err := PlanTransition(staged, models.JobStatusInProgress, s.transitionContext(caller))
			if err == nil && !plan.Noop {
				for k, v := range plan.Fields {
					ch.fields[k] = v
				}
				ch.action = models.EventActionJobStatusChanged
			}
		}
		return ch, nil
	})
}

// RemovePhoto removes one photo and deletes its stored object once the job is saved.
func (s *JobSynchronizer) RemovePhoto(ctx context.Context, caller *Caller, id string, kind models.PhotoKind, index int) (*MutationResult, error) {
	res, err := s.mutate(ctx, caller, id, "remove_photo", func(job *models.Job) (*change, error) {
		set, removed, err := RemovePhoto(job.PhotoSet(), job.Status, kind, index)
		if err != nil {
			return nil, err
		}
		return &change{
			fields: map[string]interface{}{"photos": datatypes.NewJSONType(set)},
			result: MutationResult{PhotoCount: Count(set, kind), RemovedRef: removed},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.removeStoredPhotos(ctx, res.RemovedRef)
	return res, nil
}

func (s *JobSynchronizer) removeStoredPhotos(ctx context.Context, refs ...string) {
	if s.Photos == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.Photos.Remove(ctx, ref); err != nil {
			config.LogError(s.Logger, "JobSynchronizer", "removeStoredPhotos", "photo object delete failed", ref, err)
		}
	}
}

func parseCost(field string, value *string) (decimal.NullDecimal, error) {
	cost, err := utils.ParseOptionalMoney(value)
	if err != nil {
		return cost, &ValidationError{Field: field, Message: "invalid amount"}
	}
	if cost.Valid && cost.Decimal.IsNegative() {
		return cost, &ValidationError{Field: field, Message: "amount cannot be negative"}
	}
	return cost, nil
}

// UpdateCosts sets or clears the costs; nil leaves a cost unchanged and a blank
// string clears it. Setting the final cost retries a completion that was
// denied for lack of it.
func (s *JobSynchronizer) UpdateCosts(ctx context.Context, caller *Caller, id string, initial *string, final *string) (*MutationResult, error) {
	if initial == nil && final == nil {
		return nil, &ValidationError{Message: "nothing to update"}
	}
	initialCost, err := parseCost("initial_cost", initial)
	if err != nil {
		return nil, err
	}
	finalCost, err := parseCost("final_cost", final)
	if err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, caller, id, "update_costs", func(job *models.Job) (*change, error) {
		fields := map[string]interface{}{}
		if initial != nil {
			fields["initial_cost"] = initialCost
		}
		if final != nil {
			if !finalCost.Valid && job.Status == models.JobStatusCompleted {
				return nil, &ValidationError{Field: "final_cost", Message: "final cost of a completed job cannot be cleared"}
			}
			fields["final_cost"] = finalCost
		}
		return &change{fields: fields}, nil
	})
	if err != nil || !finalCost.Valid || s.Cache == nil {
		return res, err
	}

	waiting, ok, perr := s.Cache.PendingTransition(ctx, id)
	if perr != nil {
		config.LogError(s.Logger, "JobSynchronizer", "UpdateCosts", "read pending transition", id, perr)
		return res, nil
	}
	if !ok {
		return res, nil
	}
	res.RetriedTransition = true
	retried, terr := s.Transition(ctx, caller, id, waiting)
	if terr != nil {
		res.RetryErr = terr
		return res, nil
	}
	res.Job = retried.Job
	res.To = retried.To
	res.StatusChanged = res.From != retried.To
	return res, nil
}

func (s *JobSynchronizer) UpdateDetails(ctx context.Context, caller *Caller, id string, details *models.JobDetails) (*MutationResult, error) {
	if err := models.ValidateDetails(details); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return s.mutate(ctx, caller, id, "update_details", func(job *models.Job) (*change, error) {
		fields := map[string]interface{}{}
		if details.Customer != nil {
			fields["customer"] = datatypes.NewJSONType(*details.Customer)
		}
		if details.Motorcycle != nil {
			fields["motorcycle"] = datatypes.NewJSONType(*details.Motorcycle)
		}
		if details.ServiceType != nil {
			fields["service_type"] = *details.ServiceType
		}
		return &change{fields: fields}, nil
	})
}

// Transition moves the job to next. A completion denied for a missing final
// cost is remembered and retried by UpdateCosts.
func (s *JobSynchronizer) Transition(ctx context.Context, caller *Caller, id string, next models.JobStatus) (*MutationResult, error) {
	if !next.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(next)}
	}
	res, err := s.mutate(ctx, caller, id, "transition", func(job *models.Job) (*change, error) {
		plan, err := PlanTransition(job, next, s.transitionContext(caller))
		if err != nil {
			return nil, err
		}
		if plan.Noop {
			return &change{}, nil
		}
		return &change{fields: plan.Fields, action: models.EventActionJobStatusChanged}, nil
	})
	if errors.Is(err, ErrFinalCostRequired) && s.Cache != nil {
		if perr := s.Cache.SetPendingTransition(ctx, id, next); perr != nil {
			config.LogError(s.Logger, "JobSynchronizer", "Transition", "remember pending transition", id, perr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if res.StatusChanged && s.Cache != nil {
		if cerr := s.Cache.ClearPendingTransition(ctx, id); cerr != nil {
			config.LogError(s.Logger, "JobSynchronizer", "Transition", "clear pending transition", id, cerr)
		}
	}
	return res, nil
}

// Delete removes the job after two confirmations. Declining either one, or a
// failed remote delete, leaves the job untouched.
func (s *JobSynchronizer) Delete(ctx context.Context, caller *Caller, id string, confirm Confirmer) (err error) {
	ctx, span := s.startSpan(ctx, "delete", id)
	defer func() { endSpan(span, err) }()

	if caller == nil {
		return utils.ErrorUnauthorized
	}
	job, err := s.current(ctx, caller, id)
	if err != nil {
		return err
	}
	if confirm == nil || !confirm.ConfirmDelete(ctx, job) || !confirm.ConfirmDeleteAgain(ctx, job) {
		return ErrDeleteCancelled
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.Gateway.Delete(ctx, id, s.jobEvent(models.EventActionJobDeleted, caller, job, nil)); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			s.removeCache(ctx, id)
			return ErrJobNotFound
		}
		config.LogError(s.Logger, "JobSynchronizer", "Delete", "remote delete failed", id, err)
		return &RemoteFailureError{Op: "delete", Err: err}
	}
	s.removeCache(ctx, id)
	photos := job.PhotoSet()
	s.removeStoredPhotos(ctx, append(append([]string{}, photos.Start...), photos.Completion...)...)
	return nil
}

// Load hands the cached copy to onCached for immediate display, then fetches
// the stored job, which replaces the cached one.
func (s *JobSynchronizer) Load(ctx context.Context, caller *Caller, id string, onCached func(*models.CachedJob)) (job *models.Job, err error) {
	ctx, span := s.startSpan(ctx, "load", id)
	defer func() { endSpan(span, err) }()

	if caller == nil {
		return nil, utils.ErrorUnauthorized
	}
	if s.Cache != nil && onCached != nil {
		entry, cerr := s.Cache.Get(ctx, id)
		if cerr == nil && entry != nil && entry.Job != nil && caller.canSee(entry.Job) {
			onCached(entry)
		}
	}
	job, err = s.fetch(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		s.removeCache(ctx, id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !caller.canSee(job) {
		return nil, ErrJobNotFound
	}
	s.putCache(ctx, job, models.SyncStateConfirmed, "", "load")
	return job, nil
}

// Watch follows remote changes of a job. Every change refetches the stored
// copy into the cache before onChange sees it; a deletion passes a nil job.
func (s *JobSynchronizer) Watch(ctx context.Context, caller *Caller, id string, onChange func(*models.Job, models.ChangeAction)) (io.Closer, error) {
	if _, err := s.Load(ctx, caller, id, nil); err != nil {
		return nil, err
	}
	return s.Gateway.Subscribe(ctx, id, func(ev models.ChangeEvent) {
		if ev.Action == models.ChangeActionDelete {
			s.removeCache(ctx, id)
			onChange(nil, ev.Action)
			return
		}
		job, err := s.fetch(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			s.removeCache(ctx, id)
			onChange(nil, models.ChangeActionDelete)
			return
		}
		if err != nil {
			config.LogError(s.Logger, "JobSynchronizer", "Watch", "refetch after change", id, err)
			return
		}
		s.putCache(ctx, job, models.SyncStateConfirmed, "", "watch")
		onChange(job, ev.Action)
	})
}
