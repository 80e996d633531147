package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEvent is the durable trail behind every privileged or money-moving
// action: who did what, with the before/after snapshots. CorrectionService
// treats a failed audit write as fatal; other components treat it as
// best-effort.
type AuditEvent struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:30;not null;index" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceId   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:50;index" json:"reference_type"`
	ActorId       int       `gorm:"not null;index" json:"actor_id"`
	ActorName     string    `gorm:"size:100" json:"actor_name"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (e *AuditEvent) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("audit_events are immutable")
}

func (e *AuditEvent) BeforeDelete(tx *gorm.DB) error {
	return errors.New("audit_events cannot be deleted")
}

// CreateAuditEvent writes the trail row inside the caller's transaction.
// Actor identity comes from the context; scheduled jobs without one are
// recorded as the system actor.
func CreateAuditEvent(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	actorId, actorName := actorFromContext(ctx)

	event := AuditEvent{
		ActionType:    actionType,
		Before:        string(b),
		After:         string(a),
		Description:   description,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		ActorId:       actorId,
		ActorName:     actorName,
		CorrelationId: CorrelationIdFromContextOrNew(ctx),
	}
	return tx.Create(&event).Error
}

func actorFromContext(ctx context.Context) (int, string) {
	if ctx == nil {
		return 0, "system"
	}
	actorId, ok := appctx.GetInt(ctx, appctx.ContextKeyActorId)
	if !ok {
		return 0, "system"
	}
	actorName, _ := appctx.GetString(ctx, appctx.ContextKeyActorName)
	if actorName == "" {
		actorName = "system"
	}
	return actorId, actorName
}

// CorrelationIdFromContextOrNew reuses the request's correlation id when one
// is present so a whole distribution or reconciliation run can be traced end
// to end, and mints a fresh one otherwise.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
