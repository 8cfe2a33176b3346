package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
)

var errGatewayDown = errors.New("gateway unavailable")

type memGateway struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	events  []models.DomainEvent
	writes  int
	fetches int
	failErr error
	subs    map[string][]func(models.ChangeEvent)
}

func newMemGateway() *memGateway {
	return &memGateway{jobs: map[string]*models.Job{}, subs: map[string][]func(models.ChangeEvent){}}
}

func (g *memGateway) Insert(ctx context.Context, job *models.Job, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes++
	if g.failErr != nil {
		return g.failErr
	}
	g.jobs[job.ID] = job.Clone()
	g.events = append(g.events, events...)
	return nil
}

func (g *memGateway) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes++
	if g.failErr != nil {
		return g.failErr
	}
	job, ok := g.jobs[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	next := job.Clone()
	next.ApplyFields(fields)
	g.jobs[id] = next
	g.events = append(g.events, events...)
	return nil
}

func (g *memGateway) Delete(ctx context.Context, id string, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes++
	if g.failErr != nil {
		return g.failErr
	}
	if _, ok := g.jobs[id]; !ok {
		return utils.ErrorRecordNotFound
	}
	delete(g.jobs, id)
	g.events = append(g.events, events...)
	return nil
}

func (g *memGateway) Fetch(ctx context.Context, id string) (*models.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	job, ok := g.jobs[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return job.Clone(), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (g *memGateway) Subscribe(ctx context.Context, id string, fn func(models.ChangeEvent)) (io.Closer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[id] = append(g.subs[id], fn)
	return closerFunc(func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
		return nil
	}), nil
}

// emit simulates a change made by another client.
func (g *memGateway) emit(id string, action models.ChangeAction, mutate func(*models.Job)) {
	g.mu.Lock()
	if mutate != nil {
		if job, ok := g.jobs[id]; ok {
			mutate(job)
		}
	}
	if action == models.ChangeActionDelete {
		delete(g.jobs, id)
	}
	subs := append([]func(models.ChangeEvent){}, g.subs[id]...)
	g.mu.Unlock()
	for _, fn := range subs {
		fn(models.ChangeEvent{Collection: models.JobCollection, Action: action, ID: id})
	}
}

func (g *memGateway) stored(id string) *models.Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	if job, ok := g.jobs[id]; ok {
		return job.Clone()
	}
	return nil
}

func (g *memGateway) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedJob
	pending map[string]models.JobStatus
	history []models.SyncState
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]*models.CachedJob{}, pending: map[string]models.JobStatus{}}
}

func (c *memCache) Get(ctx context.Context, id string) (*models.CachedJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *entry
	cp.Job = entry.Job.Clone()
	return &cp, nil
}

func (c *memCache) Put(ctx context.Context, entry *models.CachedJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	cp.Job = entry.Job.Clone()
	cp.CachedAt = time.Now()
	c.entries[entry.Job.ID] = &cp
	c.history = append(c.history, entry.State)
	return nil
}

func (c *memCache) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	delete(c.pending, id)
	return nil
}

func (c *memCache) SetPendingTransition(ctx context.Context, id string, status models.JobStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = status
	return nil
}

func (c *memCache) PendingTransition(ctx context.Context, id string) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.pending[id]
	return s, ok, nil
}

func (c *memCache) ClearPendingTransition(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	return nil
}

func (c *memCache) entry(id string) *models.CachedJob {
	e, _ := c.Get(context.Background(), id)
	return e
}

type memPhotos struct {
	mu      sync.Mutex
	removed []string
}

func (p *memPhotos) Remove(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, ref)
	return nil
}

// scriptedConfirmer answers the two delete prompts and counts how often each was asked.
type scriptedConfirmer struct {
	first, second           bool
	firstAsked, secondAsked int
}

func (c *scriptedConfirmer) ConfirmDelete(ctx context.Context, job *models.Job) bool {
	c.firstAsked++
	return c.first
}

func (c *scriptedConfirmer) ConfirmDeleteAgain(ctx context.Context, job *models.Job) bool {
	c.secondAsked++
	return c.second
}

type busyLocker struct{}

func (busyLocker) Lock(ctx context.Context, jobId string) (func(), error) {
	return nil, ErrJobBusy
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestSynchronizer() (*JobSynchronizer, *memGateway, *memCache, *memPhotos) {
	gw := newMemGateway()
	cache := newMemCache()
	photos := &memPhotos{}
	s := &JobSynchronizer{
		Gateway:      gw,
		Cache:        cache,
		Photos:       photos,
		Requirements: Requirements{MinStartPhotos: 3, MinCompletionPhotos: 3},
		Rollback:     true,
		Now:          func() time.Time { return testNow },
	}
	return s, gw, cache, photos
}

var mechanic = &Caller{ID: "mech-1", Email: "mech@example.com", Name: "Ko Min", Role: models.UserRoleMechanic, ShopId: "shop-1"}

func newJobInput() *models.NewJob {
	return &models.NewJob{
		Customer:    models.CustomerInfo{Name: "Daw Hla", Email: "hla@example.com"},
		Motorcycle:  models.MotorcycleInfo{Make: "Yamaha", Model: "YBR", Year: "2020"},
		ServiceType: models.ServiceTypeRepair,
	}
}
