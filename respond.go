package main

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// errorStatus maps an error to its HTTP status. Anything unclassified is a
// server error.
func errorStatus(err error) int {
	var validationErrors validator.ValidationErrors
	switch workflow.KindOf(err) {
	case workflow.KindValidation, workflow.KindPrecondition, workflow.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindRemoteFailure:
		return http.StatusBadGateway
	case workflow.KindCancelled:
		return http.StatusBadRequest
	case workflow.KindConflict:
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, utils.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, utils.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorInvalidInput), errors.As(err, &validationErrors):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTicketTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAlreadyMember), errors.Is(err, models.ErrInvalidMembership), errors.Is(err, models.ErrCannotRemoveOwner):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes {error, kind, action}. Job errors carry the kind and the
// next step the user can take, e.g. supply_final_cost.
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	body := gin.H{"error": err.Error()}
	if kind := workflow.KindOf(err); kind != workflow.KindUnknown {
		body["kind"] = kind
	}
	if action := workflow.ActionOf(err); action != "" {
		body["action"] = action
	}
	if status >= http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "server", c.FullPath(), c.Request.Method, nil, err)
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}
