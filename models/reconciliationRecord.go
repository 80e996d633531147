package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ReconciliationRecord is the durable result of one day's ledger replay.
// One row per calendar day (UTC): a re-run for the same day refreshes the
// row in place and bumps RunCount, so late entries for a prior date can be
// absorbed without duplicating history.
type ReconciliationRecord struct {
	ID                 int                  `gorm:"primary_key" json:"id"`
	ReconciliationDate time.Time            `gorm:"type:date;not null;uniqueIndex" json:"reconciliation_date"`
	Status             ReconciliationStatus `gorm:"type:enum('RECONCILED','DISCREPANCY_FOUND');not null;index" json:"status"`
	ExpectedBalances   BalanceSet           `gorm:"type:text" json:"expected_balances"`
	ActualBalances     BalanceSet           `gorm:"type:text" json:"actual_balances"`
	EntriesReplayed    int                  `gorm:"not null;default:0" json:"entries_replayed"`
	AccountsChecked    int                  `gorm:"not null;default:0" json:"accounts_checked"`
	DiscrepancyCount   int                  `gorm:"not null;default:0" json:"discrepancy_count"`
	RunCount           int                  `gorm:"not null;default:1" json:"run_count"`
	CorrelationId      string               `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt          time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *ReconciliationRecord) BeforeUpdate(tx *gorm.DB) error {
	// Re-runs refresh results; the day itself never moves.
	allowed := map[string]bool{
		"Status":           true,
		"ExpectedBalances": true,
		"ActualBalances":   true,
		"EntriesReplayed":  true,
		"AccountsChecked":  true,
		"DiscrepancyCount": true,
		"RunCount":         true,
		"CorrelationId":    true,
		"UpdatedAt":        true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("only result fields may be updated on reconciliation_records")
		}
	}
	return nil
}

func (r *ReconciliationRecord) BeforeDelete(tx *gorm.DB) error {
	return errors.New("reconciliation_records cannot be deleted")
}

// GetReconciliationRecordByDate returns the record for the given UTC day, or
// nil when that day has not been reconciled yet.
func GetReconciliationRecordByDate(ctx context.Context, db *gorm.DB, date time.Time) (*ReconciliationRecord, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var record ReconciliationRecord
	err := db.WithContext(ctx).Where("reconciliation_date = ?", day).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
