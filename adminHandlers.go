package main

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/models/reports"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := models.GetOutboxStatus(c.Request.Context(), models.EventReferenceType(c.Param("type")), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, status)
	}
}

// outboxReprocessHandler requeues failed or dead outbox rows of one record.
func outboxReprocessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := models.ReprocessOutbox(c.Request.Context(), models.EventReferenceType(c.Param("type")), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, status)
	}
}

func historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := models.ListHistory(c.Request.Context(), c.Param("type"), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, entries)
	}
}

// jobHistoryHandler serves a job's audit trail to anyone who can see the job.
func jobHistoryHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		job, err := s.Load(ctx, caller, c.Param("id"), nil)
		if err != nil {
			respondError(c, err)
			return
		}
		entries, err := models.ListHistory(ctx, string(models.EventReferenceJob), job.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, entries)
	}
}

// authorizeShop allows a shop filter only for the caller's own shop, unless
// the caller is an admin.
func authorizeShop(caller *workflow.Caller, shopId string) error {
	if shopId != caller.ShopId && !caller.IsAdmin() {
		return utils.ErrorForbidden
	}
	return nil
}

// reportShopId resolves which shop a report covers. Only admins may ask for a
// shop other than their own.
func reportShopId(c *gin.Context, caller *workflow.Caller) (string, error) {
	shopId := c.Query("shop_id")
	if shopId == "" {
		shopId = caller.ShopId
	}
	if shopId == "" {
		return "", &workflow.ValidationError{Field: "shop_id", Message: "is required"}
	}
	if err := authorizeShop(caller, shopId); err != nil {
		return "", err
	}
	return shopId, nil
}

func jobSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		shopId, err := reportShopId(c, caller)
		if err != nil {
			respondError(c, err)
			return
		}
		from, okFrom := parseDateParam(c.Query("from"), false)
		to, okTo := parseDateParam(c.Query("to"), true)
		if !okFrom || !okTo {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date range"})
			return
		}
		summary, err := reports.GetJobSummary(c.Request.Context(), shopId, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, summary)
	}
}

func exportJobsHandler() gin.HandlerFunc {
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
		filename := fmt.Sprintf("jobs-%s.xlsx", time.Now().UTC().Format("20060102"))
		c.Header("Content-Type", xlsxContentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		if err := reports.ExportJobs(c.Request.Context(), filter, c.Writer); err != nil {
			respondError(c, err)
			return
		}
	}
}
