package main

import (
	"io"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/workflow"
	"github.com/gin-gonic/gin"
)

const streamKeepAlive = 25 * time.Second

type jobStreamEvent struct {
	Job    *models.Job
	Action models.ChangeAction
}

// jobStreamHandler serves server-sent events for one job: the current copy
// first, then every change made by other clients until the job is deleted or
// the client goes away.
func jobStreamHandler(s *workflow.JobSynchronizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := withCaller(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		id := c.Param("id")

		job, err := s.Load(ctx, caller, id, nil)
		if err != nil {
			respondError(c, err)
			return
		}

		updates := make(chan jobStreamEvent, 16)
		sub, err := s.Watch(ctx, caller, id, func(j *models.Job, action models.ChangeAction) {
			select {
			case updates <- jobStreamEvent{Job: j, Action: action}:
			default:
				// slow client; it refetches on the next event anyway
			}
		})
		if err != nil {
			respondError(c, err)
			return
		}
		defer sub.Close()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("job", job)
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case ev := <-updates:
				if ev.Job == nil {
					c.SSEvent("deleted", gin.H{"id": id})
					return false
				}
				c.SSEvent("job", ev.Job)
				return true
			case <-time.After(streamKeepAlive):
				c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
				return true
			}
		})
	}
}
