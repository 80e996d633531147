package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntry records one balance mutation. The log is append-only: entries
// are the unit of truth balances are re-derived from during reconciliation,
// so updates and deletes are blocked at the ORM layer.
//
// Amount is always positive; IsDebit carries the direction. CREDIT and DEBIT
// entries have it implied by type, ADJUSTMENT entries set it explicitly so
// replay never has to infer sign from surrounding balances.
//
// uniq_balance_txn closes the double-distribution gap: a second posting with
// the same (balance, external ref, type) fails with a duplicate key error.
type LedgerEntry struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	BalanceId              int             `gorm:"not null;index;index:idx_entry_balance_created,priority:1;index:uniq_balance_txn,unique,priority:1" json:"balance_id"`
	ExternalTransactionRef *string         `gorm:"size:100;index:uniq_balance_txn,unique,priority:2" json:"external_transaction_ref"`
	EntryType              EntryType       `gorm:"type:enum('CREDIT','DEBIT','ADJUSTMENT');not null;index:uniq_balance_txn,unique,priority:3" json:"entry_type"`
	IsDebit                *bool           `gorm:"not null;default:false" json:"is_debit"`
	Amount                 decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	BalanceBefore          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_before"`
	BalanceAfter           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_after"`
	ActorId                int             `gorm:"index" json:"actor_id"`
	Description            string          `gorm:"size:255" json:"description"`
	CorrelationId          string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt              time.Time       `gorm:"autoCreateTime;index;index:idx_entry_balance_created,priority:2" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if !e.EntryType.Valid() {
		return errors.New("invalid entry type")
	}
	if !e.Amount.IsPositive() {
		return errors.New("ledger entry amount must be positive")
	}
	if e.IsDebit == nil {
		return errors.New("ledger entry direction is required")
	}
	switch e.EntryType {
	case EntryTypeCredit:
		if *e.IsDebit {
			return errors.New("credit entries cannot be debit-directed")
		}
	case EntryTypeDebit:
		if !*e.IsDebit {
			return errors.New("debit entries must be debit-directed")
		}
	}
	return nil
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: ledger_entries cannot be updated")
}

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: ledger_entries cannot be deleted")
}

// SignedAmount is the delta the entry applies to its balance.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.IsDebit != nil && *e.IsDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
