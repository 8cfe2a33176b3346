package models

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"gorm.io/gorm"
)

// Collectable is a record living in a named collection (table).
type Collectable interface {
	CollectionName() string
	RecordId() string
	RecordShopId() string
}

// ChangeEvent is announced on changes:<collection> after a write commits.
// Subscribers refetch the record to get the authoritative copy.
type ChangeEvent struct {
	Collection string       `json:"collection"`
	Action     ChangeAction `json:"action"`
	ID         string       `json:"id"`
	ShopId     string       `json:"shop_id,omitempty"`
	At         time.Time    `json:"at"`
}

// RecordFilter is an equality filter on columns.
type RecordFilter map[string]interface{}

type Ordering struct {
	Column string
	Desc   bool
}

// TxHook runs inside the write transaction, e.g. to record outbox rows.
type TxHook func(tx *gorm.DB) error

func changeChannel(collection string) string {
	return "changes:" + collection
}

func publishChange(ctx context.Context, ev ChangeEvent) {
	ev.At = time.Now().UTC()
	if err := config.PublishRedis(ctx, changeChannel(ev.Collection), ev); err != nil {
		config.LogError(config.GetLogger(), "Gateway", "publishChange", "publish change event", ev, err)
	}
}

func runInTx(ctx context.Context, write func(tx *gorm.DB) error, hooks []TxHook) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database not ready")
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := write(tx); err != nil {
			return err
		}
		for _, hook := range hooks {
			if err := hook(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertRecord creates record and announces the insert.
func InsertRecord(ctx context.Context, record Collectable, hooks ...TxHook) error {
	err := runInTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(record).Error
	}, hooks)
	if err != nil {
		return err
	}
	publishChange(ctx, ChangeEvent{
		Collection: record.CollectionName(),
		Action:     ChangeActionInsert,
		ID:         record.RecordId(),
		ShopId:     record.RecordShopId(),
	})
	return nil
}

// UpdateRecordFields is a field-level update by id. Columns not in fields are
// left untouched. Returns utils.ErrorRecordNotFound when no row matches.
func UpdateRecordFields[T Collectable](ctx context.Context, id string, fields map[string]interface{}, hooks ...TxHook) error {
	var model T
	err := runInTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&model).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	}, hooks)
	if err != nil {
		return err
	}
	ev := ChangeEvent{Collection: model.CollectionName(), Action: ChangeActionUpdate, ID: id}
	if v, ok := fields["shop_id"].(*string); ok && v != nil {
		ev.ShopId = *v
	}
	publishChange(ctx, ev)
	return nil
}

// DeleteRecord hard-deletes by id.
func DeleteRecord[T Collectable](ctx context.Context, id string, hooks ...TxHook) error {
	var model T
	err := runInTx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	}, hooks)
	if err != nil {
		return err
	}
	publishChange(ctx, ChangeEvent{Collection: model.CollectionName(), Action: ChangeActionDelete, ID: id})
	return nil
}

// SelectRecords lists records matching filter in the given order. limit <= 0 means no limit.
func SelectRecords[T any](ctx context.Context, filter RecordFilter, ordering []Ordering, limit int) ([]*T, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not ready")
	}
	var results []*T
	dbCtx := db.WithContext(ctx).Model(new(T))
	for col, val := range filter {
		dbCtx = dbCtx.Where(map[string]interface{}{col: val})
	}
	for _, o := range ordering {
		if o.Desc {
			dbCtx = dbCtx.Order(o.Column + " DESC")
		} else {
			dbCtx = dbCtx.Order(o.Column)
		}
	}
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Subscription is a live change feed. Close stops delivery.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// SubscribeChanges delivers change events of collection that pass filter.
// Callbacks run on a single goroutine in publish order.
func SubscribeChanges(ctx context.Context, collection string, filter func(ChangeEvent) bool, callback func(ChangeEvent)) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	ps := config.SubscribeRedis(subCtx, changeChannel(collection))
	if ps == nil {
		close(sub.done)
		return sub
	}

	go func() {
		defer close(sub.done)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					config.LogError(config.GetLogger(), "Gateway", "SubscribeChanges", "decode change event", msg.Payload, err)
					continue
				}
				if filter != nil && !filter(ev) {
					continue
				}
				callback(ev)
			}
		}
	}()
	return sub
}
