package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
)

type jobCostsRequest struct {
	InitialCost *string `json:"initial_cost"`
	FinalCost   *string `json:"final_cost"`
}

type jobStatusRequest struct {
	Status models.JobStatus `json:"status"`
}

type jobNoteRequest struct {
	Text string `json:"text"`
}

// jobMutationResponse is the body of every successful job mutation.
type jobMutationResponse struct {
	Job               *models.Job      `json:"job"`
	From              models.JobStatus `json:"from"`
	To                models.JobStatus `json:"to"`
	StatusChanged     bool             `json:"status_changed"`
	PhotoCount        *int             `json:"photo_count,omitempty"`
	RetriedTransition bool             `json:"retried_transition,omitempty"`
	RetryError        gin.H            `json:"retry_error,omitempty"`
}

func mutationResponse(res *workflow.MutationResult, withPhotoCount bool) jobMutationResponse {
	out := jobMutationResponse{
		Job:               res.Job,
		From:              res.From,
		To:                res.To,
		StatusChanged:     res.StatusChanged,
		RetriedTransition: res.RetriedTransition,
	}
	if withPhotoCount {
		n := res.PhotoCount
		out.PhotoCount = &n
	}
	if res.RetryErr != nil {
		out.RetryError = gin.H{
			"error":  res.RetryErr.Error(),
			"kind":   workflow.KindOf(res.RetryErr),
			"action": workflow.ActionOf(res.RetryErr),
		}
	}
	return out
}

// queryConfirmer answers the two delete prompts from the confirm and
// confirm_again query parameters.
type queryConfirmer struct {
	first, second bool
}

func (q queryConfirmer) ConfirmDelete(ctx context.Context, job *models.Job) bool { return q.first }

func (q queryConfirmer) ConfirmDeleteAgain(ctx context.Context, job *models.Job) bool {
	return q.second
}

func withCaller(c *gin.Context) (*workflow.Caller, bool) {
	caller, err := workflow.CallerFromContext(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return caller, true
}

func createJobHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		var input models.NewJob
		if !bindJSON(c, &input) {
			return
		}
		job, err := s.CreateJob(c.Request.Context(), caller, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, job)
	}
}

func parseDateParam(v string, endOfDay bool) (*time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

// jobFilterFromQuery reads status, service_type, shop_id, mine, from, to,
// after and limit.
func jobFilterFromQuery(c *gin.Context, caller *workflow.Caller) (models.JobFilter, bool) {
	var filter models.JobFilter
	if v := c.Query("status"); v != "" {
		status := models.JobStatus(v)
		if !status.IsValid() {
			return filter, false
		}
		filter.Status = &status
	}
	if v := c.Query("service_type"); v != "" {
		st := models.ServiceType(v)
		if !st.IsValid() {
			return filter, false
		}
		filter.ServiceType = &st
	}
	if v := c.Query("shop_id"); v != "" {
		filter.ShopId = &v
	}
	if c.Query("mine") == "true" {
		filter.CreatedBy = &caller.ID
	}
	var ok bool
	if filter.From, ok = parseDateParam(c.Query("from"), false); !ok {
		return filter, false
	}
	if filter.To, ok = parseDateParam(c.Query("to"), true); !ok {
		return filter, false
	}
	if v := c.Query("after"); v != "" {
		filter.After = &v
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, false
		}
		filter.Limit = n
	}
	return filter, true
}

func listJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		filter, ok := jobFilterFromQuery(c, caller)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		if filter.ShopId != nil {
			if err := authorizeShop(caller, *filter.ShopId); err != nil {
				respondError(c, err)
				return
			}
		}
		conn, err := models.ListJobs(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, conn)
	}
}

func getJobHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		job, err := s.Load(c.Request.Context(), caller, c.Param("id"), nil)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, job)
	}
}

func updateJobHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		var details models.JobDetails
		if !bindJSON(c, &details) {
			return
		}
		res, err := s.UpdateDetails(c.Request.Context(), caller, c.Param("id"), &details)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, mutationResponse(res, false))
	}
}

func addJobNoteHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		var req jobNoteRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := s.AddNote(c.Request.Context(), caller, c.Param("id"), req.Text)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, mutationResponse(res, false))
	}
}

func updateJobCostsHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		var req jobCostsRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := s.UpdateCosts(c.Request.Context(), caller, c.Param("id"), req.InitialCost, req.FinalCost)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, mutationResponse(res, false))
	}
}

func transitionJobHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		var req jobStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, &workflow.ValidationError{Field: "status", Message: "unknown status"})
			return
		}
		res, err := s.Transition(c.Request.Context(), caller, c.Param("id"), req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, mutationResponse(res, false))
	}
}

func deleteJobHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		confirm := queryConfirmer{
			first:  c.Query("confirm") == "true",
			second: c.Query("confirm_again") == "true",
		}
		if err := s.Delete(c.Request.Context(), caller, c.Param("id"), confirm); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
