package models

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Outbox publish statuses for NotificationOutbox.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// NotificationOutbox implements the transactional outbox: ledger workflows
// write the row inside their DB transaction and never talk to Pub/Sub
// directly. The dispatcher publishes after commit, so a notification can be
// late or retried but a failed publish can never fail or fork a posting.
type NotificationOutbox struct {
	ID            int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	Topic         string `gorm:"size:100;not null" json:"topic"`
	EventType     string `gorm:"size:50;not null;index" json:"event_type"`
	ReferenceId   int    `gorm:"index" json:"reference_id"`
	ReferenceType string `gorm:"size:50" json:"reference_type"`
	Payload       []byte `gorm:"type:blob" json:"payload"`
	// Publish metadata (dispatcher-owned).
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index;index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueNotification writes an outbox row in the caller's transaction. The
// payload is marshaled here so enqueue failures surface before commit, where
// the caller can still roll everything back.
func EnqueueNotification(ctx context.Context, tx *gorm.DB, topic string, eventType string, referenceId int, referenceType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := NotificationOutbox{
		Topic:         topic,
		EventType:     eventType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Payload:       body,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: CorrelationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}
