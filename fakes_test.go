package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memGateway struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func (g *memGateway) Insert(ctx context.Context, job *models.Job, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobs[job.ID] = job.Clone()
	return nil
}

func (g *memGateway) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	next := job.Clone()
	next.ApplyFields(fields)
	g.jobs[id] = next
	return nil
}

func (g *memGateway) Delete(ctx context.Context, id string, events ...models.DomainEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.jobs[id]; !ok {
		return utils.ErrorRecordNotFound
	}
	delete(g.jobs, id)
	return nil
}

func (g *memGateway) Fetch(ctx context.Context, id string) (*models.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return job.Clone(), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (g *memGateway) Subscribe(ctx context.Context, id string, fn func(models.ChangeEvent)) (io.Closer, error) {
	return nopCloser{}, nil
}

func (g *memGateway) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[id]
	return ok
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedJob
	pending map[string]models.JobStatus
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
	c.entries[entry.Job.ID] = &cp
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

// memObjects stands in for the photo bucket.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func (m *memObjects) Put(ctx context.Context, objectKey string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[objectKey] = data
	return nil
}

func (m *memObjects) Remove(ctx context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey)
	delete(m.objects, thumbnailObjectKey(objectKey))
	return nil
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type testServer struct {
	router  *gin.Engine
	gateway *memGateway
	objects *memObjects
}

var (
	mechanic = &workflow.Caller{ID: "mech-1", Email: "mech@example.com", Name: "Ko Min", Role: models.UserRoleMechanic, ShopId: "shop-1"}
	outsider = &workflow.Caller{ID: "mech-2", Email: "other@example.com", Name: "Ma Aye", Role: models.UserRoleMechanic, ShopId: "shop-2"}
)

// asCaller stands in for the session middleware.
func asCaller(caller *workflow.Caller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if caller == nil {
			c.Next()
			return
		}
		ctx := utils.SetProfileIdInContext(c.Request.Context(), caller.ID)
		ctx = utils.SetUserNameInContext(ctx, caller.Name)
		ctx = utils.SetEmailInContext(ctx, caller.Email)
		ctx = utils.SetRoleInContext(ctx, string(caller.Role))
		if caller.ShopId != "" {
			ctx = utils.SetShopIdInContext(ctx, caller.ShopId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestServer(caller *workflow.Caller) *testServer {
	gw := &memGateway{jobs: map[string]*models.Job{}}
	cache := &memCache{entries: map[string]*models.CachedJob{}, pending: map[string]models.JobStatus{}}
	objects := &memObjects{objects: map[string][]byte{}}
	s := &workflow.JobSynchronizer{
		Gateway:      gw,
		Cache:        cache,
		Photos:       objects,
		Requirements: workflow.Requirements{MinStartPhotos: 3, MinCompletionPhotos: 3},
		Rollback:     true,
		Now:          func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
	r := gin.New()
	r.Use(asCaller(caller))
	registerRoutes(r, s, objects)
	return &testServer{router: r, gateway: gw, objects: objects}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, target string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// apiResponse is the decoded {data} or {error, kind, action} body.
type apiResponse struct {
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Kind   string          `json:"kind"`
	Action string          `json:"action"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newJobBody() map[string]interface{} {
	return map[string]interface{}{
		"customer":     map[string]string{"name": "Daw Hla", "email": "hla@example.com"},
		"motorcycle":   map[string]string{"make": "Yamaha", "model": "YBR", "year": "2020"},
		"service_type": "repair",
	}
}

func createTestJob(t *testing.T, ts *testServer) *models.Job {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/jobs", newJobBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", w.Code, w.Body.String())
	}
	var job models.Job
	if err := json.Unmarshal(decode(t, w).Data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return &job
}
