package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the sole writer of account_balances and ledger_entries. Every
// mutation pairs a balance update with exactly one entry in one transaction,
// then re-asserts the credits-minus-debits invariant before commit.
type Store struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Tolerance decimal.Decimal
}

func NewStore(db *gorm.DB, logger *logrus.Logger) *Store {
	return &Store{
		DB:        db,
		Logger:    logger,
		Tolerance: money.DefaultTolerance,
	}
}

// PostInput describes one balance mutation. IsDebit is required for
// ADJUSTMENT entries and ignored for CREDIT/DEBIT, whose direction is
// implied by the type.
type PostInput struct {
	OwnerId                int
	OwnerType              models.OwnerType
	ScopeId                int
	Amount                 money.Money
	EntryType              models.EntryType
	IsDebit                *bool
	ExternalTransactionRef *string
	ActorId                int
	Description            string
}

func (in *PostInput) direction() (bool, error) {
	if in.EntryType == models.EntryTypeAdjustment {
		if in.IsDebit == nil {
			return false, models.NewValidationError("isDebit", "adjustment entries must state a direction")
		}
		return *in.IsDebit, nil
	}
	return in.EntryType.DefaultDirection()
}

// Post applies one mutation inside the caller's transaction. The caller owns
// commit/rollback; any returned error means nothing may be committed.
func (s *Store) Post(ctx context.Context, tx *gorm.DB, in PostInput) (*models.AccountBalance, *models.LedgerEntry, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, models.NewValidationError("amount", "must be positive")
	}
	if !in.OwnerType.Valid() {
		return nil, nil, models.NewValidationError("ownerType", "unknown owner type")
	}
	isDebit, err := in.direction()
	if err != nil {
		return nil, nil, err
	}

	balance, err := s.lockOrCreateBalance(ctx, tx, in.OwnerId, in.OwnerType, in.ScopeId)
	if err != nil {
		return nil, nil, err
	}

	balanceBefore := balance.CurrentBalance
	amount := in.Amount.Decimal()
	var balanceAfter decimal.Decimal
	if isDebit {
		balanceAfter = balanceBefore.Sub(amount)
		balance.TotalDebits = balance.TotalDebits.Add(amount)
	} else {
		balanceAfter = balanceBefore.Add(amount)
		balance.TotalCredits = balance.TotalCredits.Add(amount)
	}
	balance.CurrentBalance = balanceAfter
	now := time.Now().UTC()
	balance.LastTransactionAt = &now

	err = tx.Model(&models.AccountBalance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]interface{}{
			"current_balance":     balance.CurrentBalance,
			"total_credits":       balance.TotalCredits,
			"total_debits":        balance.TotalDebits,
			"last_transaction_at": balance.LastTransactionAt,
		}).Error
	if err != nil {
		return nil, nil, err
	}

	entry := models.LedgerEntry{
		BalanceId:              balance.ID,
		ExternalTransactionRef: in.ExternalTransactionRef,
		EntryType:              in.EntryType,
		IsDebit:                &isDebit,
		Amount:                 amount,
		BalanceBefore:          balanceBefore,
		BalanceAfter:           balanceAfter,
		ActorId:                in.ActorId,
		Description:            in.Description,
		CorrelationId:          models.CorrelationIdFromContextOrNew(ctx),
	}
	if err := tx.Create(&entry).Error; err != nil {
		if models.IsDuplicateKeyErr(err) {
			return nil, nil, models.ErrDuplicateTransaction
		}
		return nil, nil, err
	}

	if err := models.UpsertDailySummary(tx, balance.ID, entry.CreatedAt, isDebit, amount, balanceAfter); err != nil {
		return nil, nil, err
	}

	// Re-read and re-assert before the caller can commit.
	var persisted models.AccountBalance
	if err := tx.First(&persisted, balance.ID).Error; err != nil {
		return nil, nil, err
	}
	if !persisted.InvariantSatisfied(s.Tolerance) {
		intErr := &models.IntegrityError{
			Op:        "post",
			BalanceId: balance.ID,
			Detail: fmt.Sprintf("current=%s credits=%s debits=%s",
				persisted.CurrentBalance.String(), persisted.TotalCredits.String(), persisted.TotalDebits.String()),
		}
		config.LogError(s.Logger, "ledger", "Post", "invariant check after mutation", persisted, intErr)
		return nil, nil, intErr
	}

	return &persisted, &entry, nil
}

// PostAtomic wraps Post in its own transaction for callers with no larger
// unit of work.
func (s *Store) PostAtomic(ctx context.Context, in PostInput) (*models.AccountBalance, *models.LedgerEntry, error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	balance, entry, err := s.Post(ctx, tx, in)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	return balance, entry, nil
}

// lockOrCreateBalance takes the row lock that serializes concurrent postings
// to one account, lazily creating the row on first posting. A create race
// loses to the unique owner index and falls through to locking the winner's
// row.
func (s *Store) lockOrCreateBalance(ctx context.Context, tx *gorm.DB, ownerId int, ownerType models.OwnerType, scopeId int) (*models.AccountBalance, error) {
	var balance models.AccountBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND owner_type = ? AND scope_id = ?", ownerId, ownerType, scopeId).
		First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	balance = models.AccountBalance{
		OwnerId:   ownerId,
		OwnerType: ownerType,
		ScopeId:   scopeId,
	}
	if err := tx.Create(&balance).Error; err != nil {
		if !models.IsDuplicateKeyErr(err) {
			return nil, err
		}
		balance = models.AccountBalance{}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND owner_type = ? AND scope_id = ?", ownerId, ownerType, scopeId).
			First(&balance).Error
		if err != nil {
			return nil, err
		}
	}
	return &balance, nil
}

// LockBalance row-locks an existing balance by id inside tx.
func (s *Store) LockBalance(ctx context.Context, tx *gorm.DB, balanceId int) (*models.AccountBalance, error) {
	var balance models.AccountBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&balance, balanceId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *Store) GetBalance(ctx context.Context, balanceId int) (*models.AccountBalance, error) {
	return models.GetAccountBalance(ctx, s.DB, balanceId)
}

func (s *Store) FindBalance(ctx context.Context, ownerId int, ownerType models.OwnerType, scopeId int) (*models.AccountBalance, error) {
	var balance models.AccountBalance
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND owner_type = ? AND scope_id = ?", ownerId, ownerType, scopeId).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetEntries returns the account's entries in [from, to), oldest first.
// Re-querying the same range returns the same sequence plus anything new:
// entries are immutable, so readers restart by re-querying.
func (s *Store) GetEntries(ctx context.Context, balanceId int, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("balance_id = ? AND created_at >= ? AND created_at < ?", balanceId, from, to).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// EntriesInWindow returns all accounts' entries in [from, to), oldest first.
func (s *Store) EntriesInWindow(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// BalanceAsOf returns the balance just before t: the balance_after of the
// last entry created strictly before t, or zero when the account has no
// earlier entries.
func (s *Store) BalanceAsOf(ctx context.Context, balanceId int, t time.Time) (decimal.Decimal, error) {
	var entry models.LedgerEntry
	err := s.DB.WithContext(ctx).
		Where("balance_id = ? AND created_at < ?", balanceId, t).
		Order("created_at DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

// DeriveBalanceFromEntries replays the full log for one account.
func (s *Store) DeriveBalanceFromEntries(ctx context.Context, balanceId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.DB.WithContext(ctx).Raw(`
		SELECT SUM(CASE WHEN is_debit THEN -amount ELSE amount END)
		FROM ledger_entries WHERE balance_id = ?
	`, balanceId).Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// VerifyInvariant checks the stored fields of one balance.
func (s *Store) VerifyInvariant(ctx context.Context, balanceId int) error {
	balance, err := s.GetBalance(ctx, balanceId)
	if err != nil {
		return err
	}
	if !balance.InvariantSatisfied(s.Tolerance) {
		return &models.IntegrityError{
			Op:        "verify",
			BalanceId: balanceId,
			Detail: fmt.Sprintf("current=%s credits=%s debits=%s",
				balance.CurrentBalance.String(), balance.TotalCredits.String(), balance.TotalDebits.String()),
		}
	}
	return nil
}

// ListActiveBalances returns every active account, for scans.
func (s *Store) ListActiveBalances(ctx context.Context) ([]models.AccountBalance, error) {
	var balances []models.AccountBalance
	err := s.DB.WithContext(ctx).
		Where("is_active = true").
		Order("id ASC").
		Find(&balances).Error
	return balances, err
}
