package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var errInvalidEvent = errors.New("reference_type/reference_id required")

// systemContext is the context outbox consumers run under: no caller, shop
// scoping off, correlation carried over from the event.
func systemContext(parent context.Context, m config.PubSubMessage) context.Context {
	ctx := utils.SetSkipShopScopeInContext(parent, true)
	ctx = utils.SetUserNameInContext(ctx, "System")
	if m.ShopId != "" {
		ctx = utils.SetShopIdInContext(ctx, m.ShopId)
	}
	return utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
}

// processOutboxEvent fans an event out to notifications and records the
// consumer-side result on its outbox row. Notifications are unique per
// (event, recipient), so redelivery is harmless.
func processOutboxEvent(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	ctx = systemContext(ctx, m)
	var count int
	procErr := errInvalidEvent
	if m.ReferenceType != "" && m.ReferenceId != "" {
		count, procErr = models.FanOutEvent(ctx, m)
	}
	if m.ID > 0 {
		if err := models.MarkOutboxProcessed(ctx, m.ID, procErr); err != nil {
			config.LogError(logger, "pubsub.go", "processOutboxEvent", "MarkOutboxProcessed", m.ID, err)
		}
	}
	if procErr != nil {
		return procErr
	}
	config.LogInfo(logger, "pubsub.go", "processOutboxEvent", "event processed", logrus.Fields{
		"record_id":      m.ID,
		"shop_id":        m.ShopId,
		"reference_type": m.ReferenceType,
		"reference_id":   m.ReferenceId,
		"action":         m.Action,
		"notified":       count,
		"correlation_id": m.CorrelationId,
	})
	return nil
}

func domainEventPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "pubsub.go", "domainEventPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "pubsub.go", "domainEventPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		var m config.PubSubMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "pubsub.go", "domainEventPubSubHandler", "Unmarshal pubsub message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if m.ReferenceType == "" || m.ReferenceId == "" {
			config.LogError(logger, "pubsub.go", "domainEventPubSubHandler", "invalid event", m, errInvalidEvent)
			c.Status(http.StatusNoContent)
			return
		}
		if m.CorrelationId == "" {
			m.CorrelationId = msg.Message.ID
		}

		fields := logrus.Fields{
			"field":          "domainEventPubSubHandler",
			"shop_id":        m.ShopId,
			"reference_type": m.ReferenceType,
			"reference_id":   m.ReferenceId,
			"message_id":     msg.Message.ID,
		}

		// Best-effort: the direct processor may be handling the same row.
		var lock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil && m.ID > 0 {
			lock, err = locker.Obtain(c.Request.Context(), fmt.Sprintf("lock:outbox:%d", m.ID), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(fields).Warn("outbox row is being processed elsewhere; retry later")
				c.Status(http.StatusConflict)
				return
			} else if err != nil {
				logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(context.WithoutCancel(c.Request.Context())); releaseErr != nil {
				logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		if err := processOutboxEvent(c.Request.Context(), logger, m); err != nil {
			fields["correlation_id"] = m.CorrelationId
			logger.WithFields(fields).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry.
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// runDomainEventSubscriber consumes the domain event topic through a pull
// subscription. Used where no push endpoint can reach the service.
func runDomainEventSubscriber(ctx context.Context, logger *logrus.Logger) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		var m config.PubSubMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "pubsub.go", "runDomainEventSubscriber", "Unmarshal pubsub message", string(msg.Data), err)
			msg.Ack()
			return
		}
		if m.CorrelationId == "" {
			m.CorrelationId = msg.ID
		}
		if err := processOutboxEvent(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "runDomainEventSubscriber",
				"shop_id":        m.ShopId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			if errors.Is(err, errInvalidEvent) {
				msg.Ack()
				return
			}
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "pubsub.go", "runDomainEventSubscriber", "Receive", nil, err)
		}
	}()
	return nil
}
