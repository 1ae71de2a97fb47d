package models

import "time"

// ImportOutboxMessage is written in the same transaction as an ImportedDocument
// and published after commit by the outbox dispatcher.
type ImportOutboxMessage struct {
	ID               int        `gorm:"primary_key;index:idx_import_outbox_dispatch,priority:3" json:"id"`
	TenantId         string     `gorm:"size:64;not null;index" json:"tenant_id"`
	AggregateType    string     `gorm:"size:50;not null" json:"aggregate_type"`
	AggregateId      string     `gorm:"size:36;not null;index" json:"aggregate_id"`
	EventType        string     `gorm:"size:50;not null" json:"event_type"`
	Payload          []byte     `gorm:"type:json" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_import_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_import_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
