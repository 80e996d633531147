package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceCorrection pairs an admin's manual adjustment with the single
// ADJUSTMENT ledger entry that applied it. Immutable once written.
type BalanceCorrection struct {
	ID               int             `gorm:"primary_key" json:"id"`
	CorrectionNumber string          `gorm:"size:50;not null;uniqueIndex" json:"correction_number"`
	BalanceId        int             `gorm:"not null;index" json:"balance_id"`
	OriginalBalance  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"original_balance"`
	CorrectedBalance decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"corrected_balance"`
	DifferenceAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"difference_amount"`
	Reason           string          `gorm:"type:text;not null" json:"reason"`
	EvidenceURL      *string         `gorm:"size:500" json:"evidence_url"`
	LedgerEntryId    int             `gorm:"not null;index" json:"ledger_entry_id"`
	AdminActorId     int             `gorm:"not null;index" json:"admin_actor_id"`
	CorrelationId    string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (c *BalanceCorrection) BeforeCreate(tx *gorm.DB) error {
	if c.Reason == "" {
		return errors.New("correction reason is required")
	}
	return nil
}

func (c *BalanceCorrection) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("balance_corrections are immutable")
}

func (c *BalanceCorrection) BeforeDelete(tx *gorm.DB) error {
	return errors.New("balance_corrections cannot be deleted")
}
