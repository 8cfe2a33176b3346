package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &workflow.ValidationError{Field: "email", Message: "invalid"}, http.StatusUnprocessableEntity},
		{"missing photos", &workflow.PhotoRequirementError{Kind: models.PhotoKindStart, Required: 3}, http.StatusUnprocessableEntity},
		{"final cost", workflow.ErrFinalCostRequired, http.StatusUnprocessableEntity},
		{"transition", &workflow.InvalidTransitionError{From: models.JobStatusCompleted, To: models.JobStatusPending}, http.StatusUnprocessableEntity},
		{"job not found", workflow.ErrJobNotFound, http.StatusNotFound},
		{"remote", &workflow.RemoteFailureError{Op: "update", Err: errors.New("db down")}, http.StatusBadGateway},
		{"cancelled", workflow.ErrDeleteCancelled, http.StatusBadRequest},
		{"busy", workflow.ErrJobBusy, http.StatusConflict},
		{"unauthorized", utils.ErrorUnauthorized, http.StatusUnauthorized},
		{"forbidden", fmt.Errorf("approve: %w", utils.ErrorForbidden), http.StatusForbidden},
		{"record not found", utils.ErrorRecordNotFound, http.StatusNotFound},
		{"ticket transition", models.ErrInvalidTicketTransition, http.StatusUnprocessableEntity},
		{"already member", models.ErrAlreadyMember, http.StatusConflict},
		{"invalid input", utils.InvalidInput("ticket subject is required"), http.StatusBadRequest},
		{"wrapped invalid input", fmt.Errorf("create shop: %w", utils.InvalidInput("invalid shop input")), http.StatusBadRequest},
		{"struct validation", utils.ValidateStruct(&struct {
			Name string `validate:"required"`
		}{}), http.StatusBadRequest},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Fatalf("errorStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRespondErrorUnclassified(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/jobs", nil)

	respondError(c, errors.New("connection reset"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if len(c.Errors) != 1 {
		t.Fatalf("errors recorded = %d, want 1", len(c.Errors))
	}
	if resp := decode(t, w); resp.Kind != "" {
		t.Fatalf("kind = %q, want none", resp.Kind)
	}
}

func TestRespondErrorBody(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/jobs/1/status", nil)

	respondError(c, workflow.ErrFinalCostRequired)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp.Error != "final cost required" || resp.Kind != "precondition" || resp.Action != "supply_final_cost" {
		t.Fatalf("body = %+v", resp)
	}
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(mechanic)
	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusNoContent},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
		{"profiles need admin", http.MethodGet, "/profiles", http.StatusForbidden},
		{"outbox needs staff", http.MethodGet, "/admin/outbox/Job/abc", http.StatusForbidden},
		{"history needs staff", http.MethodGet, "/admin/history/Job/abc", http.StatusForbidden},
		{"assign needs staff", http.MethodPut, "/tickets/abc/assign", http.StatusForbidden},
		{"summary of another shop", http.MethodGet, "/reports/jobs/summary?shop_id=shop-2", http.StatusForbidden},
		{"export of another shop", http.MethodGet, "/reports/jobs.xlsx?shop_id=shop-2", http.StatusForbidden},
		{"summary bad date", http.MethodGet, "/reports/jobs/summary?from=soon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestReportShopId(t *testing.T) {
	admin := &workflow.Caller{ID: "admin-1", Role: models.UserRoleAdmin}
	tests := []struct {
		name    string
		caller  *workflow.Caller
		query   string
		want    string
		wantErr bool
	}{
		{name: "own shop by default", caller: mechanic, want: "shop-1"},
		{name: "own shop explicitly", caller: mechanic, query: "shop_id=shop-1", want: "shop-1"},
		{name: "other shop", caller: mechanic, query: "shop_id=shop-2", wantErr: true},
		{name: "admin any shop", caller: admin, query: "shop_id=shop-2", want: "shop-2"},
		{name: "no shop", caller: admin, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/reports/jobs/summary?"+tt.query, nil)
			got, err := reportShopId(c, tt.caller)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("shop = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimitParam(t *testing.T) {
	for query, want := range map[string]int{
		"":          defaultInboxLimit,
		"limit=10":  10,
		"limit=0":   defaultInboxLimit,
		"limit=abc": defaultInboxLimit,
		"limit=999": maxInboxLimit,
	} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/notifications?"+query, nil)
		if got := limitParam(c); got != want {
			t.Fatalf("limitParam(%q) = %d, want %d", query, got, want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitAndTrim = %q", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatalf("blank input should give nil")
	}
}

func TestPubSubHandlerDropsMalformedMessages(t *testing.T) {
	r := gin.New()
	r.POST("/pubsub", domainEventPubSubHandler())

	event, _ := json.Marshal(config.PubSubMessage{ShopId: "shop-1", Action: "job.created"})
	envelope := func(data []byte) []byte {
		var msg PubSubMessage
		msg.Message.Data = data
		msg.Message.ID = "m-1"
		b, _ := json.Marshal(msg)
		return b
	}
	for name, body := range map[string][]byte{
		"not json":          []byte("{"),
		"data not an event": envelope([]byte("[1,2]")),
		"missing reference": envelope(event),
	} {
		req := httptest.NewRequest(http.MethodPost, "/pubsub", bytes.NewReader(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		// acked so Pub/Sub stops redelivering
		if w.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d, want 204", name, w.Code)
		}
	}
}

func TestSystemContext(t *testing.T) {
	ctx := systemContext(context.Background(), config.PubSubMessage{ShopId: "shop-1", CorrelationId: "corr-1"})
	if skip, _ := utils.GetSkipShopScopeFromContext(ctx); !skip {
		t.Fatalf("shop scope should be skipped")
	}
	if shop, _ := utils.GetShopIdFromContext(ctx); shop != "shop-1" {
		t.Fatalf("shop = %q", shop)
	}
	if cid, _ := utils.GetCorrelationIdFromContext(ctx); cid != "corr-1" {
		t.Fatalf("correlation id = %q", cid)
	}
	if _, ok := utils.GetProfileIdFromContext(ctx); ok {
		t.Fatalf("system context must not carry a profile")
	}
}

func TestProcessOutboxEventRejectsIncompleteEvent(t *testing.T) {
	err := processOutboxEvent(context.Background(), nil, config.PubSubMessage{ReferenceType: "Job"})
	if !errors.Is(err, errInvalidEvent) {
		t.Fatalf("err = %v, want errInvalidEvent", err)
	}
}
