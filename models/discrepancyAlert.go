package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DiscrepancyAlert is raised when replayed and stored balances disagree past
// tolerance. Lifecycle is OPEN -> RESOLVED, resolved only by explicit admin
// action with notes; a later clean reconciliation never auto-resolves it.
//
// uniq_recon_balance keeps re-runs updating the same alert for an account
// rather than stacking duplicates.
type DiscrepancyAlert struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	ReconciliationRecordId int             `gorm:"not null;index;index:uniq_recon_balance,unique,priority:1" json:"reconciliation_record_id"`
	BalanceId              int             `gorm:"not null;index;index:uniq_recon_balance,unique,priority:2" json:"balance_id"`
	ExpectedAmount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"expected_amount"`
	ActualAmount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"actual_amount"`
	DifferenceAmount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"difference_amount"`
	Severity               AlertSeverity   `gorm:"type:enum('MEDIUM','HIGH');not null;index" json:"severity"`
	Status                 AlertStatus     `gorm:"type:enum('OPEN','RESOLVED');not null;default:'OPEN';index" json:"status"`
	ResolvedBy             *int            `json:"resolved_by"`
	ResolvedAt             *time.Time      `json:"resolved_at"`
	ResolutionNotes        *string         `gorm:"type:text" json:"resolution_notes"`
	CorrelationId          string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *DiscrepancyAlert) BeforeUpdate(tx *gorm.DB) error {
	// Amount fields refresh on reconciliation re-runs, resolution fields on
	// admin action. The account linkage never changes.
	allowed := map[string]bool{
		"ExpectedAmount":   true,
		"ActualAmount":     true,
		"DifferenceAmount": true,
		"Severity":         true,
		"Status":           true,
		"ResolvedBy":       true,
		"ResolvedAt":       true,
		"ResolutionNotes":  true,
		"CorrelationId":    true,
		"UpdatedAt":        true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("only result and resolution fields may be updated on discrepancy_alerts")
		}
	}
	return nil
}

func (a *DiscrepancyAlert) BeforeDelete(tx *gorm.DB) error {
	return errors.New("discrepancy_alerts cannot be deleted")
}

// SeverityFor classifies a difference against the HIGH threshold.
func SeverityFor(difference decimal.Decimal, highThreshold decimal.Decimal) AlertSeverity {
	if difference.Abs().GreaterThan(highThreshold) {
		return AlertSeverityHigh
	}
	return AlertSeverityMedium
}

// ListOpenAlerts returns all OPEN alerts, oldest first.
func ListOpenAlerts(ctx context.Context, db *gorm.DB) ([]DiscrepancyAlert, error) {
	var alerts []DiscrepancyAlert
	err := db.WithContext(ctx).
		Where("status = ?", AlertStatusOpen).
		Order("created_at ASC").
		Find(&alerts).Error
	return alerts, err
}
