package workflow

import (
	"strings"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
)

// AddPhoto appends ref to the kind sequence of a copy of set and returns the new count.
func AddPhoto(set models.PhotoSet, kind models.PhotoKind, ref string) (models.PhotoSet, int, error) {
	if !kind.IsValid() {
		return set, 0, &ValidationError{Field: "kind", Message: "unknown photo kind " + string(kind)}
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return set, len(set.Of(kind)), &ValidationError{Field: "photo", Message: "photo reference is required"}
	}
	next := set.Clone()
	switch kind {
	case models.PhotoKindStart:
		next.Start = append(next.Start, ref)
	case models.PhotoKindCompletion:
		next.Completion = append(next.Completion, ref)
	}
	return next, len(next.Of(kind)), nil
}

// RemovePhoto removes the element at index from a copy of set and returns the
// removed reference. Once a job is completed both kinds are locked, start
// photos as well as the completion evidence the job was closed on.
func RemovePhoto(set models.PhotoSet, status models.JobStatus, kind models.PhotoKind, index int) (models.PhotoSet, string, error) {
	if !kind.IsValid() {
		return set, "", &ValidationError{Field: "kind", Message: "unknown photo kind " + string(kind)}
	}
	current := set.Of(kind)
	if status == models.JobStatusCompleted {
		return set, "", &PhotoIndexError{Kind: kind, Index: index, Len: len(current), Locked: true}
	}
	if index < 0 || index >= len(current) {
		return set, "", &PhotoIndexError{Kind: kind, Index: index, Len: len(current)}
	}
	next := set.Clone()
	removed := current[index]
	switch kind {
	case models.PhotoKindStart:
		next.Start = append(next.Start[:index], next.Start[index+1:]...)
	case models.PhotoKindCompletion:
		next.Completion = append(next.Completion[:index], next.Completion[index+1:]...)
	}
	return next, removed, nil
}

func Count(set models.PhotoSet, kind models.PhotoKind) int {
	return len(set.Of(kind))
}
