package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountBalance is one party's position in the ledger: the platform's single
// service-charge account or one payee account per hospital. Created lazily on
// first posting and never physically deleted; IsActive is the only off switch.
//
// Invariant: current_balance == total_credits - total_debits within 0.01.
// Only ledger.Store mutates these rows, always together with exactly one
// LedgerEntry in the same transaction.
type AccountBalance struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OwnerId   int       `gorm:"not null;index:uniq_owner,unique,priority:1" json:"owner_id"`
	OwnerType OwnerType `gorm:"type:enum('PLATFORM_ADMIN','PAYEE');not null;index:uniq_owner,unique,priority:2" json:"owner_type"`
	// ScopeId is the hospital id for payee accounts, 0 when unscoped.
	ScopeId           int             `gorm:"not null;default:0;index:uniq_owner,unique,priority:3;index" json:"scope_id"`
	CurrentBalance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	TotalCredits      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_credits"`
	TotalDebits       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_debits"`
	PendingAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_amount"`
	LastTransactionAt *time.Time      `gorm:"index" json:"last_transaction_at"`
	IsActive          *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *AccountBalance) BeforeDelete(tx *gorm.DB) error {
	return errors.New("account balances are never deleted; deactivate instead")
}

// InvariantSatisfied checks current == credits - debits within tolerance.
func (b *AccountBalance) InvariantSatisfied(tolerance decimal.Decimal) bool {
	derived := b.TotalCredits.Sub(b.TotalDebits)
	return b.CurrentBalance.Sub(derived).Abs().LessThanOrEqual(tolerance)
}

// GetAccountBalance loads by id without locking, for read paths.
func GetAccountBalance(ctx context.Context, db *gorm.DB, balanceId int) (*AccountBalance, error) {
	var balance AccountBalance
	err := db.WithContext(ctx).First(&balance, balanceId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// FindPayeeBalanceByScope resolves a payee's account from its hospital scope.
func FindPayeeBalanceByScope(ctx context.Context, db *gorm.DB, scopeId int) (*AccountBalance, error) {
	var balance AccountBalance
	err := db.WithContext(ctx).
		Where("owner_type = ? AND scope_id = ?", OwnerTypePayee, scopeId).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
