package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
)

func TestAddPhoto(t *testing.T) {
	set := models.PhotoSet{Start: []string{"a"}}
	next, count, err := AddPhoto(set, models.PhotoKindStart, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 || next.Start[1] != "b" {
		t.Fatalf("unexpected result %v (%d)", next.Start, count)
	}
	if len(set.Start) != 1 {
		t.Fatalf("input set was modified: %v", set.Start)
	}

	if _, _, err := AddPhoto(set, models.PhotoKindCompletion, "  "); err == nil {
		t.Fatalf("expected error for empty reference")
	}
	if _, _, err := AddPhoto(set, models.PhotoKind("side"), "x"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRemovePhoto(t *testing.T) {
	set := models.PhotoSet{Start: []string{"a", "b", "c"}, Completion: []string{"x"}}

	next, removed, err := RemovePhoto(set, models.JobStatusInProgress, models.PhotoKindStart, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != "b" || len(next.Start) != 2 || next.Start[0] != "a" || next.Start[1] != "c" {
		t.Fatalf("unexpected result %v removed=%q", next.Start, removed)
	}
	if len(set.Start) != 3 || set.Start[1] != "b" {
		t.Fatalf("input set was modified: %v", set.Start)
	}

	for _, idx := range []int{-1, 3} {
		_, _, err := RemovePhoto(set, models.JobStatusInProgress, models.PhotoKindStart, idx)
		var indexErr *PhotoIndexError
		if !errors.As(err, &indexErr) || indexErr.Locked {
			t.Fatalf("index %d: expected out of range error, got %v", idx, err)
		}
	}

	for _, kind := range []models.PhotoKind{models.PhotoKindStart, models.PhotoKindCompletion} {
		_, _, err = RemovePhoto(set, models.JobStatusCompleted, kind, 0)
		var indexErr *PhotoIndexError
		if !errors.As(err, &indexErr) || !indexErr.Locked {
			t.Fatalf("%s: expected locked error for completed job, got %v", kind, err)
		}
	}
	if Count(set, models.PhotoKindStart) != 3 || Count(set, models.PhotoKindCompletion) != 1 {
		t.Fatalf("photos changed after refused removal")
	}
}
