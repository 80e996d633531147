package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DistributionRecord captures one revenue split. The unique TransactionRef is
// the first line of duplicate defense: the distributor inserts this row before
// posting, so a replayed payment event dies on the constraint instead of
// double-crediting.
type DistributionRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TransactionRef    string          `gorm:"size:100;not null;uniqueIndex" json:"transaction_ref"`
	GrossAmount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_amount"`
	ServiceChargeRate decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"service_charge_rate"`
	ServiceCharge     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"service_charge"`
	PayeeAmount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"payee_amount"`
	PayeeScopeId      int             `gorm:"index" json:"payee_scope_id"`
	PayeeBalanceId    int             `gorm:"index;not null" json:"payee_balance_id"`
	PlatformBalanceId int             `gorm:"not null" json:"platform_balance_id"`
	PayeeEntryId      int             `json:"payee_entry_id"`
	PlatformEntryId   int             `json:"platform_entry_id"`
	ActorId           int             `json:"actor_id"`
	CorrelationId     string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (r *DistributionRecord) BeforeUpdate(tx *gorm.DB) error {
	// Balance and entry ids are linked right after the postings, inside the
	// same transaction. Everything else is frozen at insert.
	allowed := map[string]bool{
		"PayeeBalanceId":    true,
		"PlatformBalanceId": true,
		"PayeeEntryId":      true,
		"PlatformEntryId":   true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("distribution records are immutable after posting")
		}
	}
	return nil
}

func (r *DistributionRecord) BeforeDelete(tx *gorm.DB) error {
	return errors.New("distribution records cannot be deleted")
}

// GetDistributionByTransactionRef returns the prior distribution for a
// transaction, if any.
func GetDistributionByTransactionRef(ctx context.Context, db *gorm.DB, transactionRef string) (*DistributionRecord, error) {
	var record DistributionRecord
	err := db.WithContext(ctx).Where("transaction_ref = ?", transactionRef).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
