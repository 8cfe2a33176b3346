package main

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/motoshop_backend/middlewares"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"github.com/gin-gonic/gin"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

type assignTicketRequest struct {
	AssigneeId string `json:"assignee_id"`
}

type ticketStatusRequest struct {
	Status models.TicketStatus `json:"status"`
}

type messageView struct {
	*models.Message
	Sender *models.Profile `json:"sender,omitempty"`
}

type ticketView struct {
	*models.Ticket
	Replies []*models.TicketReply `json:"replies"`
}

// limitParam reads ?limit, falling back to the default and clamping to the max.
func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultInboxLimit
	}
	if n > maxInboxLimit {
		return maxInboxLimit
	}
	return n
}

func listNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := models.ListNotifications(c.Request.Context(), c.Query("unread") == "true", limitParam(c))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, notifications)
	}
}

func unreadNotificationCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := models.UnreadNotificationCount(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, gin.H{"unread": count})
	}
}

func markNotificationReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.MarkNotificationRead(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func markAllNotificationsReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := models.MarkAllNotificationsRead(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, gin.H{"updated": n})
	}
}

// withSenders resolves each message's sender through the request loader.
func withSenders(c *gin.Context, messages []*models.Message) []messageView {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.SenderId)
	}
	profiles, errs := middlewares.GetProfiles(c.Request.Context(), ids)
	views := make([]messageView, 0, len(messages))
	for i, m := range messages {
		v := messageView{Message: m}
		if i < len(profiles) && (len(errs) <= i || errs[i] == nil) {
			v.Sender = profiles[i]
		}
		views = append(views, v)
	}
	return views
}

func sendMessageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMessage
		if !bindJSON(c, &input) {
			return
		}
		msg, err := models.SendMessage(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, msg)
	}
}

func inboxHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := models.GetInbox(c.Request.Context(), c.Query("unread") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, withSenders(c, messages))
	}
}

func conversationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := models.GetConversation(c.Request.Context(), c.Param("profileId"), limitParam(c))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, withSenders(c, messages))
	}
}

func markConversationReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := models.MarkConversationRead(c.Request.Context(), c.Param("profileId"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, gin.H{"updated": n})
	}
}

func createTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTicket
		if !bindJSON(c, &input) {
			return
		}
		ticket, err := models.CreateTicket(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, ticket)
	}
}

func listTicketsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.TicketStatus
		if v := c.Query("status"); v != "" {
			s := models.TicketStatus(v)
			status = &s
		}
		tickets, err := models.ListTickets(c.Request.Context(), status, c.Query("assigned") == "me")
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, tickets)
	}
}

func getTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ticket, err := models.GetTicket(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		replies, err := models.ListTicketReplies(ctx, ticket.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, ticketView{Ticket: ticket, Replies: replies})
	}
}

func replyTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTicketReply
		if !bindJSON(c, &input) {
			return
		}
		reply, err := models.ReplyToTicket(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, reply)
	}
}

func assignTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assignTicketRequest
		if !bindJSON(c, &req) {
			return
		}
		ticket, err := models.AssignTicket(c.Request.Context(), c.Param("id"), req.AssigneeId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, ticket)
	}
}

func setTicketStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ticketStatusRequest
		if !bindJSON(c, &req) {
			return
		}
		ticket, err := models.SetTicketStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, ticket)
	}
}
