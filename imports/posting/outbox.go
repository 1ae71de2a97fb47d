package posting

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publisher delivers one outbox message and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, msg models.ImportOutboxMessage) (string, error)
}

// PubSubPublisher publishes outbox payloads to a Pub/Sub topic, ordered per
// tenant.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg models.ImportOutboxMessage) (string, error) {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        msg.Payload,
		OrderingKey: msg.TenantId,
		Attributes: map[string]string{
			"tenant_id":      msg.TenantId,
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateId,
			"correlation_id": msg.CorrelationId,
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(msg.TenantId)
		return "", err
	}
	return id, nil
}

// OutboxDispatcher claims pending outbox rows across tenants and publishes
// them. Failures back off exponentially; rows that keep failing go DEAD.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    Publisher
	DispatcherID string

	BatchSize    int
	PollInterval time.Duration
	LockTimeout  time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration

	now func() time.Time
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher Publisher, s config.ImportSettings) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:           db,
		Logger:       logger,
		Publisher:    publisher,
		DispatcherID: uuid.NewString(),
		BatchSize:    50,
		PollInterval: s.OutboxPollInterval,
		LockTimeout:  30 * time.Second,
		MaxAttempts:  s.OutboxMaxAttempts,
		BaseBackoff:  s.OutboxBaseBackoff,
		MaxBackoff:   s.OutboxMaxBackoff,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil {
			config.LogError(d.Logger, "posting", "OutboxDispatcher.Run", d.DispatcherID, nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// Backoff returns base*2^(attempt-1), capped at MaxBackoff.
func (d *OutboxDispatcher) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return d.BaseBackoff
	}
	delay := time.Duration(float64(d.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d.MaxBackoff > 0 && delay > d.MaxBackoff {
		return d.MaxBackoff
	}
	return delay
}

// DispatchOnce claims one batch and publishes it. It returns how many rows
// were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.DB == nil || d.Publisher == nil {
		return 0, nil
	}
	ctx = tenancy.Privileged(ctx, "outbox dispatcher")
	now := d.now()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.ImportOutboxMessage
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
				OR
				(publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.ImportOutboxMessage{}).Where("id = ?", claimed[i].ID).Updates(map[string]any{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.ImportOutboxMessage{}).Where("id = ?", claimed[i].ID).Updates(map[string]any{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubID, pubErr := d.Publisher.Publish(ctx, rec)
		if pubErr != nil {
			d.markFailed(ctx, rec, pubErr)
			continue
		}
		d.markSent(ctx, rec.ID, pubID)
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) markSent(ctx context.Context, id int, pubID string) {
	now := d.now()
	_ = d.DB.WithContext(ctx).Model(&models.ImportOutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &pubID,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, rec models.ImportOutboxMessage, err error) {
	msg := err.Error()
	fields := logrus.Fields{
		"field":     "OutboxDispatcher",
		"tenant_id": rec.TenantId,
		"record_id": rec.ID,
		"attempt":   rec.PublishAttempts,
	}

	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		_ = d.DB.WithContext(ctx).Model(&models.ImportOutboxMessage{}).
			Where("id = ?", rec.ID).
			Updates(map[string]any{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("outbox publish moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := d.now().Add(d.Backoff(rec.PublishAttempts))
	_ = d.DB.WithContext(ctx).Model(&models.ImportOutboxMessage{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("outbox publish failed: " + msg)
	}
}
