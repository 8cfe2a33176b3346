package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"gorm.io/datatypes"
)

const (
	NoteJobStarted   = "Job started - initial photos uploaded"
	NoteJobResumed   = "Job resumed"
	NoteJobOnHold    = "Job put on hold"
	NoteJobCompleted = "Job completed - final photos uploaded"
)

// Requirements are the evidence minimums gating transitions.
type Requirements struct {
	MinStartPhotos      int
	MinCompletionPhotos int
}

func DefaultRequirements() Requirements {
	return Requirements{
		MinStartPhotos:      config.JobMinStartPhotos(),
		MinCompletionPhotos: config.JobMinCompletionPhotos(),
	}
}

type TransitionContext struct {
	Author       string
	Now          time.Time
	Requirements Requirements
}

// TransitionPlan is an approved transition. Fields is the column update map
// applied to both the cached and the stored copy of the job.
type TransitionPlan struct {
	From          models.JobStatus
	To            models.JobStatus
	Noop          bool
	Note          *models.Note
	DateCompleted *time.Time
	Fields        map[string]interface{}
}

// PlanTransition decides whether job may move to next and what must change with it.
// It never touches job.
func PlanTransition(job *models.Job, next models.JobStatus, tc TransitionContext) (*TransitionPlan, error) {
	if job == nil {
		return nil, ErrJobNotFound
	}
	if !next.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(next)}
	}
	from := job.Status
	if !from.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "job has unknown status " + string(from)}
	}
	if from == next {
		return &TransitionPlan{From: from, To: next, Noop: true, Fields: map[string]interface{}{}}, nil
	}

	photos := job.PhotoSet()
	var note string
	switch from {
	case models.JobStatusPending:
		switch next {
		case models.JobStatusInProgress:
			if err := requirePhotos(photos, models.PhotoKindStart, tc.Requirements.MinStartPhotos); err != nil {
				return nil, err
			}
			note = NoteJobStarted
		case models.JobStatusOnHold:
			note = NoteJobOnHold
		case models.JobStatusCompleted:
			if err := requireCompletion(job, photos, tc.Requirements, true); err != nil {
				return nil, err
			}
			note = NoteJobCompleted
		}
	case models.JobStatusInProgress:
		switch next {
		case models.JobStatusPending:
			return nil, &InvalidTransitionError{From: from, To: next}
		case models.JobStatusOnHold:
			note = NoteJobOnHold
		case models.JobStatusCompleted:
			if err := requireCompletion(job, photos, tc.Requirements, false); err != nil {
				return nil, err
			}
			note = NoteJobCompleted
		}
	case models.JobStatusOnHold:
		switch next {
		case models.JobStatusPending:
			return nil, &InvalidTransitionError{From: from, To: next}
		case models.JobStatusInProgress:
			if err := requirePhotos(photos, models.PhotoKindStart, tc.Requirements.MinStartPhotos); err != nil {
				return nil, err
			}
			note = NoteJobResumed
		case models.JobStatusCompleted:
			if err := requireCompletion(job, photos, tc.Requirements, false); err != nil {
				return nil, err
			}
			note = NoteJobCompleted
		}
	case models.JobStatusCompleted:
		return nil, &InvalidTransitionError{From: from, To: next}
	}
	if note == "" {
		return nil, &InvalidTransitionError{From: from, To: next}
	}

	now := tc.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	plan := &TransitionPlan{
		From: from,
		To:   next,
		Note: &models.Note{Text: note, Timestamp: now, Author: tc.Author, System: true},
	}
	notes := append(append([]models.Note{}, job.NoteList()...), *plan.Note)
	plan.Fields = map[string]interface{}{
		"status": next,
		"notes":  datatypes.NewJSONType(notes),
	}
	if next == models.JobStatusCompleted {
		plan.DateCompleted = &now
		plan.Fields["date_completed"] = &now
	}
	return plan, nil
}

func requirePhotos(photos models.PhotoSet, kind models.PhotoKind, min int) error {
	if n := len(photos.Of(kind)); n < min {
		return &PhotoRequirementError{Kind: kind, Required: min, Actual: n}
	}
	return nil
}

// requireCompletion checks evidence before cost, so a missing final cost is
// only reported once the photos are in place. Start photos are only required
// when completing straight from pending.
func requireCompletion(job *models.Job, photos models.PhotoSet, req Requirements, checkStart bool) error {
	if checkStart {
		if err := requirePhotos(photos, models.PhotoKindStart, req.MinStartPhotos); err != nil {
			return err
		}
	}
	if err := requirePhotos(photos, models.PhotoKindCompletion, req.MinCompletionPhotos); err != nil {
		return err
	}
	if !job.HasFinalCost() {
		return ErrFinalCostRequired
	}
	return nil
}
