package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/disintegration/imaging"
)

func TestPhotoObjectKey(t *testing.T) {
	key := photoObjectKey(mechanic, "job/../1", models.PhotoKindStart, ".png")
	if !strings.HasPrefix(key, "shop-1/jobs/job1/start/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("key = %q", key)
	}

	solo := &workflow.Caller{ID: "mech-9", Role: models.UserRoleMechanic}
	key = photoObjectKey(solo, "job-1", models.PhotoKindCompletion, ".jpg")
	if !strings.HasPrefix(key, "mech-9/jobs/job-1/completion/") {
		t.Fatalf("key without shop = %q", key)
	}
}

func TestThumbnailObjectKey(t *testing.T) {
	got := thumbnailObjectKey("shop-1/jobs/job-1/start/a.png")
	if got != "shop-1/jobs/job-1/start/thumbnails/a.png" {
		t.Fatalf("thumbnail key = %q", got)
	}
}

func TestMakeThumbnail(t *testing.T) {
	thumb, err := makeThumbnail(pngBytes(t, 400, 300))
	if err != nil {
		t.Fatalf("makeThumbnail: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 150 {
		t.Fatalf("thumbnail size = %dx%d, want 200x150", b.Dx(), b.Dy())
	}
}

func TestUploadPhotoHandler(t *testing.T) {
	ts := newTestServer(mechanic)
	job := createTestJob(t, ts)

	var res jobMutationResponse
	for i := 0; i < 3; i++ {
		w := ts.upload(t, "/jobs/"+job.ID+"/photos/start", pngBytes(t, 64, 48))
		if w.Code != http.StatusCreated {
			t.Fatalf("upload %d: status = %d: %s", i, w.Code, w.Body.String())
		}
		if err := json.Unmarshal(decode(t, w).Data, &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if res.PhotoCount == nil || *res.PhotoCount != 3 {
		t.Fatalf("photo count = %v", res.PhotoCount)
	}
	if !res.StatusChanged || res.Job.Status != models.JobStatusInProgress {
		t.Fatalf("third start photo should start the job, got %s (changed=%v)", res.Job.Status, res.StatusChanged)
	}
	// original plus thumbnail per photo
	if n := ts.objects.count(); n != 6 {
		t.Fatalf("stored objects = %d, want 6", n)
	}
}

func TestUploadPhotoHandlerRejections(t *testing.T) {
	ts := newTestServer(mechanic)
	job := createTestJob(t, ts)

	tests := []struct {
		name   string
		target string
		data   []byte
		status int
	}{
		{name: "not an image", target: "/jobs/" + job.ID + "/photos/start", data: []byte("plain text, not a photo"), status: http.StatusUnprocessableEntity},
		{name: "bad kind", target: "/jobs/" + job.ID + "/photos/before", data: pngBytes(t, 8, 8), status: http.StatusUnprocessableEntity},
		{name: "unknown job", target: "/jobs/missing/photos/start", data: pngBytes(t, 8, 8), status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.upload(t, tt.target, tt.data)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
	// a rejected upload leaves nothing behind in the bucket
	if n := ts.objects.count(); n != 0 {
		t.Fatalf("stored objects = %d, want 0", n)
	}
}

func TestUploadPhotoHandlerBucketFailure(t *testing.T) {
	ts := newTestServer(mechanic)
	job := createTestJob(t, ts)
	ts.objects.failPut = true

	w := ts.upload(t, "/jobs/"+job.ID+"/photos/start", pngBytes(t, 8, 8))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp.Kind != "remote_failure" {
		t.Fatalf("kind = %q", resp.Kind)
	}
}

func TestRemovePhotoHandler(t *testing.T) {
	ts := newTestServer(mechanic)
	job := createTestJob(t, ts)
	if w := ts.upload(t, "/jobs/"+job.ID+"/photos/start", pngBytes(t, 8, 8)); w.Code != http.StatusCreated {
		t.Fatalf("upload: status = %d: %s", w.Code, w.Body.String())
	}

	if w := ts.do(t, http.MethodDelete, "/jobs/"+job.ID+"/photos/start/x", nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("non-numeric index: status = %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/jobs/"+job.ID+"/photos/start/4", nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("out of range index: status = %d", w.Code)
	}
	w := ts.do(t, http.MethodDelete, "/jobs/"+job.ID+"/photos/start/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: status = %d: %s", w.Code, w.Body.String())
	}
	if n := ts.objects.count(); n != 0 {
		t.Fatalf("stored objects = %d, want 0", n)
	}
}
