package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PubSubMessageRecord is the transactional outbox row. It is written inside the
// same DB transaction as the change it describes; the outbox dispatcher publishes
// it to Pub/Sub after commit.
type PubSubMessageRecord struct {
	ID               uint               `gorm:"primaryKey;index:idx_outbox_dispatch,priority:3" json:"id"`
	ShopId           string             `gorm:"size:36;index" json:"shop_id"`
	EventTime        time.Time          `gorm:"index;not null" json:"event_time"`
	ReferenceId      string             `gorm:"size:36;index:idx_outbox_ref,priority:2" json:"reference_id"`
	ReferenceType    EventReferenceType `gorm:"size:30;index:idx_outbox_ref,priority:1" json:"reference_type"`
	Action           EventAction        `gorm:"size:40;not null" json:"action"`
	ActorId          string             `gorm:"size:36" json:"actor_id"`
	OldObj           []byte             `gorm:"type:blob" json:"old_obj"`
	NewObj           []byte             `gorm:"type:blob" json:"new_obj"`
	PublishStatus    string             `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time         `gorm:"index" json:"published_at"`
	PubSubMessageId  *string            `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time         `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time         `gorm:"index" json:"locked_at"`
	LockedBy         *string            `gorm:"size:100" json:"locked_by"`
	LastPublishError *string            `gorm:"type:text" json:"last_publish_error"`
	ProcessingStatus string             `gorm:"size:20;not null;default:'PENDING'" json:"processing_status"`
	ProcessedAt      *time.Time         `json:"processed_at"`
	LastProcessError *string            `gorm:"type:text" json:"last_process_error"`
	CorrelationId    string             `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// DomainEvent describes a change other parts of the system react to.
type DomainEvent struct {
	ReferenceType EventReferenceType
	ReferenceId   string
	ShopId        string
	Action        EventAction
	ActorId       string
	Before        interface{}
	After         interface{}
}

func ConvertToPubSubMessage(record PubSubMessageRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		ShopId:        record.ShopId,
		EventTime:     record.EventTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		ActorId:       record.ActorId,
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// RecordDomainEvents returns a TxHook writing one outbox row per event.
func RecordDomainEvents(events ...DomainEvent) TxHook {
	return func(tx *gorm.DB) error {
		for _, ev := range events {
			if err := recordDomainEvent(tx, ev); err != nil {
				return err
			}
		}
		return nil
	}
}

func recordDomainEvent(tx *gorm.DB, ev DomainEvent) error {
	var oldObj, newObj []byte
	var err error
	if ev.Before != nil {
		if oldObj, err = json.Marshal(ev.Before); err != nil {
			return err
		}
	}
	if ev.After != nil {
		if newObj, err = json.Marshal(ev.After); err != nil {
			return err
		}
	}
	record := PubSubMessageRecord{
		ShopId:           ev.ShopId,
		EventTime:        time.Now().UTC(),
		ReferenceId:      ev.ReferenceId,
		ReferenceType:    ev.ReferenceType,
		Action:           ev.Action,
		ActorId:          ev.ActorId,
		OldObj:           oldObj,
		NewObj:           newObj,
		PublishStatus:    OutboxPublishStatusPending,
		ProcessingStatus: OutboxProcessStatusPending,
		CorrelationId:    correlationIdFromContextOrNew(tx.Statement.Context),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// OutboxStatus is an admin view of the latest outbox row for a record.
type OutboxStatus struct {
	RecordId         uint               `json:"record_id"`
	ReferenceType    EventReferenceType `json:"reference_type"`
	ReferenceId      string             `json:"reference_id"`
	Action           EventAction        `json:"action"`
	PublishStatus    string             `json:"publish_status"`
	ProcessingStatus string             `json:"processing_status"`
	PublishAttempts  int                `json:"publish_attempts"`
	NextAttemptAt    *time.Time         `json:"next_attempt_at"`
	LastPublishError *string            `json:"last_publish_error"`
	LastProcessError *string            `json:"last_process_error"`
	CreatedAt        time.Time          `json:"created_at"`
	PublishedAt      *time.Time         `json:"published_at"`
	ProcessedAt      *time.Time         `json:"processed_at"`
}

func GetOutboxStatus(ctx context.Context, referenceType EventReferenceType, referenceId string) (*OutboxStatus, error) {
	db := config.GetDB()
	var rec PubSubMessageRecord
	if err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	return &OutboxStatus{
		RecordId:         rec.ID,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		Action:           rec.Action,
		PublishStatus:    rec.PublishStatus,
		ProcessingStatus: rec.ProcessingStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		LastProcessError: rec.LastProcessError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
		ProcessedAt:      rec.ProcessedAt,
	}, nil
}

// ReprocessOutbox puts failed or dead rows of a record back in the dispatch queue.
func ReprocessOutbox(ctx context.Context, referenceType EventReferenceType, referenceId string) (*OutboxStatus, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).
		Model(&PubSubMessageRecord{}).
		Where("reference_type = ? AND reference_id = ? AND publish_status IN ?", referenceType, referenceId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"locked_at":       nil,
			"locked_by":       nil,
			"publish_status":  OutboxPublishStatusPending,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	return GetOutboxStatus(ctx, referenceType, referenceId)
}

// MarkOutboxProcessed records the consumer-side result for an outbox row.
func MarkOutboxProcessed(ctx context.Context, id uint, procErr error) error {
	db := config.GetDB()
	now := time.Now().UTC()
	fields := map[string]interface{}{
		"processing_status":  OutboxProcessStatusSucceeded,
		"processed_at":       &now,
		"last_process_error": nil,
	}
	if procErr != nil {
		msg := procErr.Error()
		fields["processing_status"] = OutboxProcessStatusFailed
		fields["last_process_error"] = &msg
	}
	return db.WithContext(ctx).Model(&PubSubMessageRecord{}).Where("id = ?", id).Updates(fields).Error
}
