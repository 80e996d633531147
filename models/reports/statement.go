package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatementRow is one ledger entry as it appears on an account statement.
type StatementRow struct {
	EntryId        int              `json:"entry_id"`
	PostedAt       time.Time        `json:"posted_at"`
	EntryType      models.EntryType `json:"entry_type"`
	Description    string           `json:"description"`
	Credit         decimal.Decimal  `json:"credit"`
	Debit          decimal.Decimal  `json:"debit"`
	RunningBalance decimal.Decimal  `json:"running_balance"`
	TransactionRef string           `json:"transaction_ref"`
}

// Statement is one account's activity over a period, bracketed by the
// opening and closing balances derived from the ledger itself.
type Statement struct {
	BalanceId      int              `json:"balance_id"`
	OwnerType      models.OwnerType `json:"owner_type"`
	ScopeId        int              `json:"scope_id"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	ClosingBalance decimal.Decimal  `json:"closing_balance"`
	TotalCredits   decimal.Decimal  `json:"total_credits"`
	TotalDebits    decimal.Decimal  `json:"total_debits"`
	Rows           []StatementRow   `json:"rows"`
}

// AccountStatement builds the statement for [from, to). Everything comes
// from ledger_entries, so the statement always reconciles with itself:
// opening + credits - debits == closing.
func AccountStatement(ctx context.Context, db *gorm.DB, balanceId int, from, to time.Time) (*Statement, error) {
	balance, err := models.GetAccountBalance(ctx, db, balanceId)
	if err != nil {
		return nil, err
	}

	statement := &Statement{
		BalanceId: balance.ID,
		OwnerType: balance.OwnerType,
		ScopeId:   balance.ScopeId,
		From:      from,
		To:        to,
	}

	var opening models.LedgerEntry
	err = db.WithContext(ctx).
		Where("balance_id = ? AND created_at < ?", balanceId, from).
		Order("created_at DESC, id DESC").
		First(&opening).Error
	if err == nil {
		statement.OpeningBalance = opening.BalanceAfter
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	statement.ClosingBalance = statement.OpeningBalance

	var entries []models.LedgerEntry
	err = db.WithContext(ctx).
		Where("balance_id = ? AND created_at >= ? AND created_at < ?", balanceId, from, to).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		row := StatementRow{
			EntryId:     entry.ID,
			PostedAt:    entry.CreatedAt,
			EntryType:   entry.EntryType,
			Description: entry.Description,
		}
		if entry.IsDebit != nil && *entry.IsDebit {
			row.Debit = entry.Amount
			statement.TotalDebits = statement.TotalDebits.Add(entry.Amount)
		} else {
			row.Credit = entry.Amount
			statement.TotalCredits = statement.TotalCredits.Add(entry.Amount)
		}
		statement.ClosingBalance = statement.ClosingBalance.Add(entry.SignedAmount())
		row.RunningBalance = statement.ClosingBalance
		if entry.ExternalTransactionRef != nil {
			row.TransactionRef = *entry.ExternalTransactionRef
		}
		statement.Rows = append(statement.Rows, row)
	}
	return statement, nil
}
