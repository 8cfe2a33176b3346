package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Notification struct {
	ID            string             `gorm:"primaryKey;type:char(36)" json:"id"`
	ProfileId     string             `gorm:"type:char(36);not null;index:idx_notification_profile,priority:1;uniqueIndex:idx_notification_event,priority:2" json:"profile_id"`
	Title         string             `gorm:"size:200;not null" json:"title"`
	Body          string             `gorm:"type:text" json:"body"`
	ReferenceType EventReferenceType `gorm:"size:30" json:"reference_type"`
	ReferenceId   string             `gorm:"size:36" json:"reference_id"`
	EventId       uint               `gorm:"not null;uniqueIndex:idx_notification_event,priority:1" json:"-"`
	IsRead        bool               `gorm:"not null;default:false;index:idx_notification_profile,priority:2" json:"is_read"`
	CreatedAt     time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Notification) CollectionName() string { return "notifications" }
func (n Notification) RecordId() string     { return n.ID }
func (n Notification) RecordShopId() string { return "" }

// ListNotifications returns the caller's notifications, newest first.
func ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*Notification, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	filter := RecordFilter{"profile_id": profileId}
	if unreadOnly {
		filter["is_read"] = false
	}
	return SelectRecords[Notification](ctx, filter, []Ordering{{Column: "created_at", Desc: true}}, limit)
}

func UnreadNotificationCount(ctx context.Context) (int64, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return 0, utils.ErrorUnauthorized
	}
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Notification{}).
		Where("profile_id = ? AND is_read = ?", profileId, false).
		Count(&count).Error
	return count, err
}

func MarkNotificationRead(ctx context.Context, id string) error {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return utils.ErrorUnauthorized
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND profile_id = ?", id, profileId).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return 0, utils.ErrorUnauthorized
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&Notification{}).
		Where("profile_id = ? AND is_read = ?", profileId, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// NotificationDraft is one rendered notification before recipients are resolved.
type NotificationDraft struct {
	Title      string
	Body       string
	Recipients []string
}

// FanOutEvent turns a published domain event into notification rows.
// Redelivered events are ignored through the (event_id, profile_id) unique key.
func FanOutEvent(ctx context.Context, msg config.PubSubMessage) (int, error) {
	draft, err := draftNotification(ctx, msg)
	if err != nil {
		return 0, err
	}
	recipients := utils.UniqueSlice(draft.Recipients)
	var rows []Notification
	for _, r := range recipients {
		if r == "" || r == msg.ActorId {
			continue
		}
		rows = append(rows, Notification{
			ID:            uuid.NewString(),
			ProfileId:     r,
			Title:         draft.Title,
			Body:          draft.Body,
			ReferenceType: EventReferenceType(msg.ReferenceType),
			ReferenceId:   msg.ReferenceId,
			EventId:       msg.ID,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return 0, err
	}
	for _, n := range rows {
		publishChange(ctx, ChangeEvent{Collection: n.CollectionName(), Action: ChangeActionInsert, ID: n.ID})
	}
	return len(rows), nil
}

type jobEventPayload struct {
	ID        string    `json:"id"`
	CreatedBy string    `json:"created_by"`
	Status    JobStatus `json:"status"`
	Customer  struct {
		Name string `json:"name"`
	} `json:"customer"`
}

func draftNotification(ctx context.Context, msg config.PubSubMessage) (*NotificationDraft, error) {
	draft := &NotificationDraft{}
	switch EventReferenceType(msg.ReferenceType) {
	case EventReferenceJob:
		var after, before jobEventPayload
		if len(msg.NewObj) > 0 {
			_ = json.Unmarshal(msg.NewObj, &after)
		}
		if len(msg.OldObj) > 0 {
			_ = json.Unmarshal(msg.OldObj, &before)
		}
		subject := after
		if subject.ID == "" {
			subject = before
		}
		switch EventAction(msg.Action) {
		case EventActionJobCreated:
			draft.Title = "New job"
			draft.Body = fmt.Sprintf("A new job for %s was created.", subject.Customer.Name)
		case EventActionJobStatusChanged:
			draft.Title = "Job status changed"
			draft.Body = fmt.Sprintf("Job for %s moved from %s to %s.", subject.Customer.Name, before.Status, after.Status)
		case EventActionJobDeleted:
			draft.Title = "Job deleted"
			draft.Body = fmt.Sprintf("Job for %s was deleted.", subject.Customer.Name)
		default:
			return nil, fmt.Errorf("unknown job action %q", msg.Action)
		}
		draft.Recipients = append(draft.Recipients, subject.CreatedBy)
		if msg.ShopId != "" {
			members, err := ShopMemberIds(ctx, msg.ShopId)
			if err != nil {
				return nil, err
			}
			draft.Recipients = append(draft.Recipients, members...)
		}
	case EventReferenceMembership:
		var after membershipView
		_ = json.Unmarshal(msg.NewObj, &after)
		shopName := after.ShopId
		if shop, err := GetShop(ctx, after.ShopId); err == nil {
			shopName = shop.Name
		}
		switch EventAction(msg.Action) {
		case EventActionMemberInvited:
			draft.Title = "Shop invitation"
			draft.Body = fmt.Sprintf("You have been invited to join %s.", shopName)
			draft.Recipients = []string{after.ProfileId}
		case EventActionMemberRequested:
			draft.Title = "Join request"
			draft.Body = fmt.Sprintf("A mechanic asked to join %s.", shopName)
			if shop, err := GetShop(ctx, after.ShopId); err == nil {
				draft.Recipients = []string{shop.OwnerId}
			}
		case EventActionMemberApproved:
			draft.Title = "Membership approved"
			draft.Body = fmt.Sprintf("Your membership in %s is approved.", shopName)
			draft.Recipients = []string{after.ProfileId}
			if shop, err := GetShop(ctx, after.ShopId); err == nil {
				draft.Recipients = append(draft.Recipients, shop.OwnerId)
			}
		case EventActionMemberRejected:
			draft.Title = "Membership rejected"
			draft.Body = fmt.Sprintf("Your membership in %s was not approved.", shopName)
			draft.Recipients = []string{after.ProfileId}
		default:
			return nil, fmt.Errorf("unknown membership action %q", msg.Action)
		}
	case EventReferenceTicket:
		var t ticketEventPayload
		_ = json.Unmarshal(msg.NewObj, &t)
		switch EventAction(msg.Action) {
		case EventActionTicketAssigned:
			draft.Title = "Ticket assigned"
			draft.Body = fmt.Sprintf("Ticket %q was assigned to you.", t.Subject)
			draft.Recipients = []string{utils.DereferencePtr(t.AssignedTo)}
		case EventActionTicketReplied:
			draft.Title = "New ticket reply"
			draft.Body = fmt.Sprintf("Ticket %q has a new reply.", t.Subject)
			draft.Recipients = []string{t.CreatedBy, utils.DereferencePtr(t.AssignedTo)}
		case EventActionTicketStatus:
			draft.Title = "Ticket updated"
			draft.Body = fmt.Sprintf("Ticket %q is now %s.", t.Subject, t.Status)
			draft.Recipients = []string{t.CreatedBy, utils.DereferencePtr(t.AssignedTo)}
		default:
			return nil, fmt.Errorf("unknown ticket action %q", msg.Action)
		}
	case EventReferenceMessage:
		var m messageEventPayload
		_ = json.Unmarshal(msg.NewObj, &m)
		draft.Title = "New message"
		draft.Body = m.Preview
		draft.Recipients = []string{m.RecipientId}
	default:
		return nil, fmt.Errorf("unknown reference type %q", msg.ReferenceType)
	}
	return draft, nil
}
