package main

import (
	"context"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDirectProcessor fans out outbox records straight from the database,
// for environments where Pub/Sub push delivery is not configured.
type OutboxDirectProcessor struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	WorkerID   string
	BatchSize  int
	Interval   time.Duration
	LockTTL    time.Duration
	RetryAfter time.Duration
}

func NewOutboxDirectProcessor(db *gorm.DB, logger *logrus.Logger) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		DB:         db,
		Logger:     logger,
		WorkerID:   "direct-" + time.Now().Format("20060102-150405.000"),
		BatchSize:  50,
		Interval:   2 * time.Second,
		LockTTL:    30 * time.Second,
		RetryAfter: 30 * time.Second,
	}
}

// OUTBOX_DIRECT_PROCESSING defaults to on; set it to false where the Pub/Sub
// push endpoint is the only consumer.
func shouldRunDirectOutboxProcessor() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PROCESSING")))
	return val != "false"
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	config.LogInfo(p.Logger, "OutboxDirectProcessor", "Run", "direct processor started", logrus.Fields{"worker_id": p.WorkerID})
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxDirectProcessor) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)
	retryBefore := now.Add(-p.RetryAfter)

	var claimed []models.PubSubMessageRecord
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				processing_status = ?
				OR (processing_status = ? AND updated_at <= ?)
				OR (processing_status = ? AND updated_at <= ?)
			`, models.OutboxProcessStatusPending,
				models.OutboxProcessStatusFailed, retryBefore,
				models.OutboxProcessStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(claimed))
		for _, rec := range claimed {
			ids = append(ids, rec.ID)
		}
		return tx.Model(&models.PubSubMessageRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"processing_status": models.OutboxProcessStatusProcessing,
				"updated_at":        now,
			}).Error
	})
	if err != nil {
		config.LogError(p.Logger, "OutboxDirectProcessor", "processOnce", "claim batch", p.WorkerID, err)
		return
	}

	for _, rec := range claimed {
		if err := processOutboxEvent(ctx, p.Logger, models.ConvertToPubSubMessage(rec)); err != nil {
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":          "OutboxDirectProcessor",
					"shop_id":        rec.ShopId,
					"reference_type": rec.ReferenceType,
					"reference_id":   rec.ReferenceId,
					"record_id":      rec.ID,
				}).Error("direct processing failed: " + err.Error())
			}
		}
	}
}
