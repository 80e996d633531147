package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountDailySummary is a derived per-day aggregate, upserted inside every
// posting transaction. It exists for reads (statements, volume outlier
// checks) and is always rebuildable from ledger_entries.
type AccountDailySummary struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BalanceId      int             `gorm:"not null;index:uniq_balance_day,unique,priority:1" json:"balance_id"`
	SummaryDate    time.Time       `gorm:"type:date;not null;index:uniq_balance_day,unique,priority:2;index" json:"summary_date"`
	CreditTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit_total"`
	DebitTotal     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit_total"`
	EntryCount     int             `gorm:"not null;default:0" json:"entry_count"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_balance"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertDailySummary folds one posted entry into its day bucket. Runs in the
// posting transaction, so the aggregate can never drift from the log.
func UpsertDailySummary(tx *gorm.DB, balanceId int, postedAt time.Time, isDebit bool, amount decimal.Decimal, closingBalance decimal.Decimal) error {
	day := postedAt.UTC().Format("2006-01-02")
	credit := amount
	debit := decimal.Zero
	if isDebit {
		credit, debit = decimal.Zero, amount
	}
	return tx.Exec(`
		INSERT INTO account_daily_summaries
			(balance_id, summary_date, credit_total, debit_total, entry_count, closing_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			credit_total = credit_total + VALUES(credit_total),
			debit_total = debit_total + VALUES(debit_total),
			entry_count = entry_count + 1,
			closing_balance = VALUES(closing_balance),
			updated_at = NOW()
	`, balanceId, day, credit, debit, closingBalance).Error
}

// DailyVolume is one balance's posted volume for one day, read by the health
// monitor's outlier scan.
type DailyVolume struct {
	BalanceId   int             `json:"balance_id"`
	SummaryDate time.Time       `json:"summary_date"`
	Volume      decimal.Decimal `json:"volume"`
	EntryCount  int             `json:"entry_count"`
}

// ListDailyVolumes returns credit+debit volume per balance per day within
// [from, to], oldest first.
func ListDailyVolumes(ctx context.Context, db *gorm.DB, from, to time.Time) ([]DailyVolume, error) {
	var volumes []DailyVolume
	err := db.WithContext(ctx).Raw(`
		SELECT balance_id, summary_date, credit_total + debit_total AS volume, entry_count
		FROM account_daily_summaries
		WHERE summary_date BETWEEN ? AND ?
		ORDER BY summary_date ASC, balance_id ASC
	`, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02")).Scan(&volumes).Error
	return volumes, err
}
