package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ticket is a support request raised by a mechanic or shop.
type Ticket struct {
	ID          string         `gorm:"primaryKey;type:char(36)" json:"id"`
	ShopId      *string        `gorm:"type:char(36);index" json:"shop_id"`
	CreatedBy   string         `gorm:"type:char(36);not null;index" json:"created_by"`
	AssignedTo  *string        `gorm:"type:char(36);index" json:"assigned_to"`
	JobId       *string        `gorm:"type:char(36)" json:"job_id"`
	Subject     string         `gorm:"size:200;not null" json:"subject"`
	Description string         `gorm:"type:text" json:"description"`
	Status      TicketStatus   `gorm:"size:20;not null;index" json:"status"`
	Priority    TicketPriority `gorm:"size:20;not null" json:"priority"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTicket struct {
	Subject     string         `json:"subject" validate:"required,max=200"`
	Description string         `json:"description"`
	Priority    TicketPriority `json:"priority"`
	JobId       *string        `json:"job_id"`
}

// TicketReply is one message in a ticket thread.
type TicketReply struct {
	ID        string    `gorm:"primaryKey;type:char(36)" json:"id"`
	TicketId  string    `gorm:"type:char(36);not null;index" json:"ticket_id"`
	ProfileId string    `gorm:"type:char(36);not null" json:"profile_id"`
	UserName  string    `gorm:"size:100" json:"user_name"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewTicketReply struct {
	Body string `json:"body" validate:"required"`
}

func (Ticket) CollectionName() string { return "tickets" }
func (t Ticket) RecordId() string     { return t.ID }
func (t Ticket) RecordShopId() string { return utils.DereferencePtr(t.ShopId) }

func (TicketReply) CollectionName() string { return "ticket_replies" }
func (r TicketReply) RecordId() string     { return r.ID }
func (r TicketReply) RecordShopId() string { return "" }

var ErrInvalidTicketTransition = errors.New("invalid ticket status change")

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusInProgress, TicketStatusClosed},
}

// CanTransitionTicket reports whether a ticket may move from one status to another.
func CanTransitionTicket(from, to TicketStatus) bool {
	for _, s := range ticketTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ticketEventPayload struct {
	ID         string       `json:"id"`
	Subject    string       `json:"subject"`
	Status     TicketStatus `json:"status"`
	CreatedBy  string       `json:"created_by"`
	AssignedTo *string      `json:"assigned_to"`
}

func (t Ticket) payload() ticketEventPayload {
	return ticketEventPayload{ID: t.ID, Subject: t.Subject, Status: t.Status, CreatedBy: t.CreatedBy, AssignedTo: t.AssignedTo}
}

func isSupportStaff(ctx context.Context) bool {
	role, _ := utils.GetRoleFromContext(ctx)
	return role == string(UserRoleAdmin) || role == string(UserRoleSupport)
}

func CreateTicket(ctx context.Context, input *NewTicket) (*Ticket, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	input.Subject = strings.TrimSpace(input.Subject)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("ticket subject is required")
	}
	if input.Priority == "" {
		input.Priority = TicketPriorityMedium
	}
	if !input.Priority.IsValid() {
		return nil, utils.InvalidInput("invalid ticket priority")
	}
	// the job must be one the caller can see
	if input.JobId != nil {
		if err := utils.ValidateResourceId[Job](ctx, "", *input.JobId); err != nil {
			return nil, err
		}
	}
	shopId, _ := utils.GetShopIdFromContext(ctx)

	t := Ticket{
		ID:          uuid.NewString(),
		ShopId:      utils.NilIfEmpty(shopId),
		CreatedBy:   profileId,
		JobId:       input.JobId,
		Subject:     input.Subject,
		Description: input.Description,
		Status:      TicketStatusOpen,
		Priority:    input.Priority,
	}
	err := InsertRecord(ctx, &t, func(tx *gorm.DB) error {
		return createHistory(tx, "Create", t.ID, "Ticket", nil, t, "Created ticket "+t.Subject)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicket returns a ticket visible to the caller: its creator, its assignee or support staff.
func GetTicket(ctx context.Context, id string) (*Ticket, error) {
	db := config.GetDB()
	var t Ticket
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&t).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	profileId, _ := utils.GetProfileIdFromContext(ctx)
	if !isSupportStaff(ctx) && t.CreatedBy != profileId && utils.DereferencePtr(t.AssignedTo) != profileId {
		return nil, utils.ErrorRecordNotFound
	}
	return &t, nil
}

// ListTickets lists all tickets for support staff and the caller's own otherwise.
func ListTickets(ctx context.Context, status *TicketStatus, assignedToMe bool) ([]*Ticket, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	filter := RecordFilter{}
	if status != nil {
		filter["status"] = *status
	}
	switch {
	case assignedToMe:
		filter["assigned_to"] = profileId
	case !isSupportStaff(ctx):
		filter["created_by"] = profileId
	}
	return SelectRecords[Ticket](ctx, filter, []Ordering{{Column: "updated_at", Desc: true}}, 0)
}

func AssignTicket(ctx context.Context, id string, assigneeId string) (*Ticket, error) {
	if !isSupportStaff(ctx) {
		return nil, utils.ErrorForbidden
	}
	t, err := GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	assignee, err := GetProfile(ctx, assigneeId)
	if err != nil {
		return nil, err
	}
	if assignee.Role != UserRoleAdmin && assignee.Role != UserRoleSupport {
		return nil, utils.InvalidInput("tickets can only be assigned to support staff")
	}
	actorId, _ := utils.GetProfileIdFromContext(ctx)

	before := *t
	fields := map[string]interface{}{"assigned_to": &assigneeId}
	if t.Status == TicketStatusOpen {
		fields["status"] = TicketStatusInProgress
		t.Status = TicketStatusInProgress
	}
	t.AssignedTo = &assigneeId
	event := DomainEvent{
		ReferenceType: EventReferenceTicket,
		ReferenceId:   t.ID,
		ShopId:        utils.DereferencePtr(t.ShopId),
		Action:        EventActionTicketAssigned,
		ActorId:       actorId,
		Before:        before.payload(),
		After:         t.payload(),
	}
	err = UpdateRecordFields[Ticket](ctx, id, fields, RecordDomainEvents(event), func(tx *gorm.DB) error {
		return createHistory(tx, "Assign", t.ID, "Ticket", before, t, "Assigned ticket to "+assignee.Name)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func SetTicketStatus(ctx context.Context, id string, status TicketStatus) (*Ticket, error) {
	if !status.IsValid() {
		return nil, utils.InvalidInput("invalid ticket status")
	}
	t, err := GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	actorId, _ := utils.GetProfileIdFromContext(ctx)
	// ticket owners may only close their own ticket
	if !isSupportStaff(ctx) && status != TicketStatusClosed {
		return nil, utils.ErrorForbidden
	}
	if !CanTransitionTicket(t.Status, status) {
		return nil, ErrInvalidTicketTransition
	}

	before := *t
	t.Status = status
	event := DomainEvent{
		ReferenceType: EventReferenceTicket,
		ReferenceId:   t.ID,
		ShopId:        utils.DereferencePtr(t.ShopId),
		Action:        EventActionTicketStatus,
		ActorId:       actorId,
		Before:        before.payload(),
		After:         t.payload(),
	}
	err = UpdateRecordFields[Ticket](ctx, id, map[string]interface{}{"status": status}, RecordDomainEvents(event), func(tx *gorm.DB) error {
		return createHistory(tx, "Update", t.ID, "Ticket", before, t, "Changed ticket status to "+string(status))
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ReplyToTicket appends a reply. Replying to a closed ticket is rejected.
func ReplyToTicket(ctx context.Context, id string, input *NewTicketReply) (*TicketReply, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("reply body is required")
	}
	t, err := GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == TicketStatusClosed {
		return nil, utils.InvalidInput("ticket is closed")
	}
	actorId, _ := utils.GetProfileIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	reply := TicketReply{
		ID:        uuid.NewString(),
		TicketId:  t.ID,
		ProfileId: actorId,
		UserName:  userName,
		Body:      input.Body,
	}
	event := DomainEvent{
		ReferenceType: EventReferenceTicket,
		ReferenceId:   t.ID,
		ShopId:        utils.DereferencePtr(t.ShopId),
		Action:        EventActionTicketReplied,
		ActorId:       actorId,
		After:         t.payload(),
	}
	err = InsertRecord(ctx, &reply, RecordDomainEvents(event), func(tx *gorm.DB) error {
		return tx.Model(&Ticket{}).Where("id = ?", t.ID).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func ListTicketReplies(ctx context.Context, id string) ([]*TicketReply, error) {
	if _, err := GetTicket(ctx, id); err != nil {
		return nil, err
	}
	return SelectRecords[TicketReply](ctx, RecordFilter{"ticket_id": id}, []Ordering{{Column: "created_at"}}, 0)
}
