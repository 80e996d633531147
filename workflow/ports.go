package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"gorm.io/gorm"
)

// The ports here keep each service constructor-injected and substitutable
// with in-memory fakes in tests. Production wiring is always the gorm-backed
// implementations below; nothing resolves a database handle at call time.

// TxRunner owns the transaction boundary of a unit of work.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormTxRunner is the production TxRunner.
type GormTxRunner struct {
	DB *gorm.DB
}

func (r GormTxRunner) InTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
			panic(rec)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// Ledger is the slice of ledger.Store that posting workflows consume.
type Ledger interface {
	Post(ctx context.Context, tx *gorm.DB, in ledger.PostInput) (*models.AccountBalance, *models.LedgerEntry, error)
	LockBalance(ctx context.Context, tx *gorm.DB, balanceId int) (*models.AccountBalance, error)
}

// Notifier enqueues fire-and-forget events. The production implementation is
// the transactional outbox; whatever happens to the row after commit can
// never fail the ledger operation that enqueued it.
type Notifier interface {
	Enqueue(ctx context.Context, tx *gorm.DB, topic string, eventType string, referenceId int, referenceType string, payload interface{}) error
}

// OutboxNotifier writes models.NotificationOutbox rows.
type OutboxNotifier struct{}

func (OutboxNotifier) Enqueue(ctx context.Context, tx *gorm.DB, topic string, eventType string, referenceId int, referenceType string, payload interface{}) error {
	return models.EnqueueNotification(ctx, tx, topic, eventType, referenceId, referenceType, payload)
}

// AuditRecorder writes the audit trail inside the caller's transaction.
type AuditRecorder interface {
	Record(tx *gorm.DB, actionType string, referenceId int, referenceType string, before interface{}, after interface{}, description string) error
}

// ModelAuditRecorder is the production AuditRecorder.
type ModelAuditRecorder struct{}

func (ModelAuditRecorder) Record(tx *gorm.DB, actionType string, referenceId int, referenceType string, before interface{}, after interface{}, description string) error {
	return models.CreateAuditEvent(tx, actionType, referenceId, referenceType, before, after, description)
}

// Clock makes time injectable where windows matter.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
