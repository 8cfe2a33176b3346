package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
)

// Message is a direct message between two profiles, optionally about a job.
type Message struct {
	ID          string     `gorm:"primaryKey;type:char(36)" json:"id"`
	SenderId    string     `gorm:"type:char(36);not null;index:idx_message_pair,priority:1" json:"sender_id"`
	RecipientId string     `gorm:"type:char(36);not null;index:idx_message_pair,priority:2;index" json:"recipient_id"`
	JobId       *string    `gorm:"type:char(36);index" json:"job_id"`
	Body        string     `gorm:"type:text;not null" json:"body"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

type NewMessage struct {
	RecipientId string  `json:"recipient_id" validate:"required"`
	JobId       *string `json:"job_id"`
	Body        string  `json:"body" validate:"required,max=4000"`
}

func (Message) CollectionName() string { return "messages" }
func (m Message) RecordId() string     { return m.ID }
func (m Message) RecordShopId() string { return "" }

type messageEventPayload struct {
	ID          string `json:"id"`
	SenderId    string `json:"sender_id"`
	RecipientId string `json:"recipient_id"`
	Preview     string `json:"preview"`
}

const messagePreviewLen = 80

func SendMessage(ctx context.Context, input *NewMessage) (*Message, error) {
	senderId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	input.Body = strings.TrimSpace(input.Body)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("message body and recipient are required")
	}
	if input.RecipientId == senderId {
		return nil, utils.InvalidInput("cannot send a message to yourself")
	}
	if _, err := GetProfile(ctx, input.RecipientId); err != nil {
		return nil, err
	}
	if input.JobId != nil {
		if err := utils.ValidateResourceId[Job](ctx, "", *input.JobId); err != nil {
			return nil, err
		}
	}

	m := Message{
		ID:          uuid.NewString(),
		SenderId:    senderId,
		RecipientId: input.RecipientId,
		JobId:       input.JobId,
		Body:        input.Body,
	}
	preview := m.Body
	if r := []rune(preview); len(r) > messagePreviewLen {
		preview = string(r[:messagePreviewLen]) + "..."
	}
	event := DomainEvent{
		ReferenceType: EventReferenceMessage,
		ReferenceId:   m.ID,
		Action:        EventActionMessageReceived,
		ActorId:       senderId,
		After: messageEventPayload{
			ID:          m.ID,
			SenderId:    senderId,
			RecipientId: m.RecipientId,
			Preview:     preview,
		},
	}
	if err := InsertRecord(ctx, &m, RecordDomainEvents(event)); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetConversation returns messages between the caller and otherId, oldest first.
func GetConversation(ctx context.Context, otherId string, limit int) ([]*Message, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB()
	var results []*Message
	err := db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			profileId, otherId, otherId, profileId).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// GetInbox lists messages received by the caller, newest first.
func GetInbox(ctx context.Context, unreadOnly bool) ([]*Message, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	db := config.GetDB()
	var results []*Message
	dbCtx := db.WithContext(ctx).Where("recipient_id = ?", profileId)
	if unreadOnly {
		dbCtx = dbCtx.Where("read_at IS NULL")
	}
	err := dbCtx.Order("created_at DESC").Limit(200).Find(&results).Error
	return results, err
}

// MarkConversationRead marks every unread message from senderId to the caller as read.
func MarkConversationRead(ctx context.Context, senderId string) (int64, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return 0, utils.ErrorUnauthorized
	}
	db := config.GetDB()
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND read_at IS NULL", senderId, profileId).
		Update("read_at", &now)
	return res.RowsAffected, res.Error
}
