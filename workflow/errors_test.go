package workflow

import (
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{&ValidationError{Field: "status", Message: "bad"}, KindValidation},
		{&PhotoIndexError{Kind: models.PhotoKindStart, Index: 4, Len: 3}, KindValidation},
		{&PhotoRequirementError{Kind: models.PhotoKindStart, Required: 3, Actual: 1}, KindPrecondition},
		{ErrFinalCostRequired, KindPrecondition},
		{fmt.Errorf("wrapped: %w", ErrFinalCostRequired), KindPrecondition},
		{&InvalidTransitionError{From: models.JobStatusCompleted, To: models.JobStatusPending}, KindInvalidTransition},
		{&RemoteFailureError{Op: "update", Err: errGatewayDown}, KindRemoteFailure},
		{ErrJobNotFound, KindNotFound},
		{ErrDeleteCancelled, KindCancelled},
		{ErrJobBusy, KindConflict},
		{errGatewayDown, KindUnknown},
		{nil, KindUnknown},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestActionOf(t *testing.T) {
	if got := ActionOf(ErrFinalCostRequired); got != "supply_final_cost" {
		t.Fatalf("got %q", got)
	}
	if got := ActionOf(&PhotoRequirementError{Kind: models.PhotoKindCompletion}); got != "upload_completion_photos" {
		t.Fatalf("got %q", got)
	}
	if got := ActionOf(errGatewayDown); got != "" {
		t.Fatalf("got %q", got)
	}
}
