package workflow

import (
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
)

// ErrorKind classifies job lifecycle errors for the caller.
type ErrorKind string

const (
	KindUnknown           ErrorKind = ""
	KindValidation        ErrorKind = "validation"
	KindPrecondition      ErrorKind = "precondition"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindRemoteFailure     ErrorKind = "remote_failure"
	KindNotFound          ErrorKind = "not_found"
	KindCancelled         ErrorKind = "cancelled"
	KindConflict          ErrorKind = "conflict"
)

var (
	ErrFinalCostRequired = errors.New("final cost required")
	ErrJobNotFound       = errors.New("job not found")
	ErrDeleteCancelled   = errors.New("delete cancelled")
	ErrJobBusy           = errors.New("another change to this job is in progress")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type PhotoRequirementError struct {
	Kind     models.PhotoKind
	Required int
	Actual   int
}

func (e *PhotoRequirementError) Error() string {
	return fmt.Sprintf("%d %s photos required, %d uploaded", e.Required, e.Kind, e.Actual)
}

type InvalidTransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// PhotoIndexError is returned for a bad removal index, or when the evidence
// set is locked because the job is completed.
type PhotoIndexError struct {
	Kind   models.PhotoKind
	Index  int
	Len    int
	Locked bool
}

func (e *PhotoIndexError) Error() string {
	if e.Locked {
		return fmt.Sprintf("%s photos cannot be removed from a completed job", e.Kind)
	}
	return fmt.Sprintf("%s photo index %d out of range (0..%d)", e.Kind, e.Index, e.Len-1)
}

// RemoteFailureError wraps a failed gateway write. RolledBack tells whether
// the optimistic cache change was reverted.
type RemoteFailureError struct {
	Op         string
	Err        error
	RolledBack bool
}

func (e *RemoteFailureError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteFailureError) Unwrap() error { return e.Err }

// KindOf maps err onto the lifecycle error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var (
		validationErr *ValidationError
		photoReqErr   *PhotoRequirementError
		transitionErr *InvalidTransitionError
		indexErr      *PhotoIndexError
		remoteErr     *RemoteFailureError
	)
	switch {
	case errors.As(err, &remoteErr):
		return KindRemoteFailure
	case errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.As(err, &validationErr), errors.As(err, &indexErr):
		return KindValidation
	case errors.As(err, &photoReqErr), errors.Is(err, ErrFinalCostRequired):
		return KindPrecondition
	case errors.As(err, &transitionErr):
		return KindInvalidTransition
	case errors.Is(err, ErrDeleteCancelled):
		return KindCancelled
	case errors.Is(err, ErrJobBusy):
		return KindConflict
	}
	return KindUnknown
}

// ActionOf names what the user should do next to get past err, if anything.
func ActionOf(err error) string {
	var photoReqErr *PhotoRequirementError
	switch {
	case errors.Is(err, ErrFinalCostRequired):
		return "supply_final_cost"
	case errors.As(err, &photoReqErr):
		return "upload_" + string(photoReqErr.Kind) + "_photos"
	case errors.Is(err, ErrDeleteCancelled):
		return "confirm_delete"
	}
	return ""
}
