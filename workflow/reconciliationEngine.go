package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconciliationLedger is the read slice of ledger.Store the engine replays
// from.
type ReconciliationLedger interface {
	EntriesInWindow(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
	BalanceAsOf(ctx context.Context, balanceId int, t time.Time) (decimal.Decimal, error)
	GetBalance(ctx context.Context, balanceId int) (*models.AccountBalance, error)
}

// ReconciliationRepository persists reconciliation records and alerts.
type ReconciliationRepository interface {
	GetRecordByDate(ctx context.Context, tx *gorm.DB, date time.Time) (*models.ReconciliationRecord, error)
	CreateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error
	UpdateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error
	AlertsForRecord(ctx context.Context, tx *gorm.DB, recordId int) ([]models.DiscrepancyAlert, error)
	CreateAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error
	RefreshAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error
	GetAlertForUpdate(ctx context.Context, tx *gorm.DB, alertId int) (*models.DiscrepancyAlert, error)
	SaveAlertResolution(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error
}

// ReconciliationEngine replays the day's ledger entries and verifies stored
// balances against the replay. Running it again for the same day refreshes
// the same record: entries are immutable, so replay is deterministic, and
// late entries for a prior day are absorbed by re-running that day.
type ReconciliationEngine struct {
	Runner    TxRunner
	Ledger    ReconciliationLedger
	Repo      ReconciliationRepository
	Notify    Notifier
	Audit     AuditRecorder
	Logger    *logrus.Logger
	Settings  config.FinanceSettings
	Clock     Clock
	Tolerance decimal.Decimal
	Validate  *validator.Validate
}

func NewReconciliationEngine(db *gorm.DB, store *ledger.Store, logger *logrus.Logger, settings config.FinanceSettings) *ReconciliationEngine {
	return &ReconciliationEngine{
		Runner:    GormTxRunner{DB: db},
		Ledger:    store,
		Repo:      GormReconciliationRepository{},
		Notify:    OutboxNotifier{},
		Audit:     ModelAuditRecorder{},
		Logger:    logger,
		Settings:  settings,
		Clock:     SystemClock{},
		Tolerance: store.Tolerance,
		Validate:  validator.New(),
	}
}

// discrepancy is one account's mismatch found during a run.
type discrepancy struct {
	BalanceId int
	Expected  decimal.Decimal
	Actual    decimal.Decimal
	Diff      decimal.Decimal
	Severity  models.AlertSeverity
}

// Reconcile verifies the given UTC calendar day and persists the result.
//
// Expected balances are the balance immediately before the window plus the
// window's replayed entries. Actual balances are the stored current balance
// net of entries posted after the window, so postings for later days never
// read as discrepancies of this day.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, date time.Time) (*models.ReconciliationRecord, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationEngine.Reconcile")
	defer span.End()

	windowStart, windowEnd := utils.DayWindowUTC(date)
	day := windowStart
	now := e.Clock.Now()

	entries, err := e.Ledger.EntriesInWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	expected := models.BalanceSet{}
	for _, entry := range entries {
		seed, ok := expected[entry.BalanceId]
		if !ok {
			seed, err = e.Ledger.BalanceAsOf(ctx, entry.BalanceId, windowStart)
			if err != nil {
				return nil, err
			}
		}
		expected[entry.BalanceId] = seed.Add(entry.SignedAmount())
	}

	// Entries after the window are rolled back out of the stored balance
	// before comparison.
	laterDelta := map[int]decimal.Decimal{}
	if now.After(windowEnd) {
		later, err := e.Ledger.EntriesInWindow(ctx, windowEnd, now.Add(time.Second))
		if err != nil {
			return nil, err
		}
		for _, entry := range later {
			laterDelta[entry.BalanceId] = laterDelta[entry.BalanceId].Add(entry.SignedAmount())
		}
	}

	actual := models.BalanceSet{}
	var discrepancies []discrepancy
	for balanceId, expectedAmount := range expected {
		balance, err := e.Ledger.GetBalance(ctx, balanceId)
		if err != nil {
			if errors.Is(err, models.ErrAccountNotFound) {
				// An entry without its balance row is itself a discrepancy.
				actual[balanceId] = decimal.Zero
				diff := expectedAmount.Neg()
				discrepancies = append(discrepancies, discrepancy{
					BalanceId: balanceId,
					Expected:  expectedAmount,
					Actual:    decimal.Zero,
					Diff:      diff,
					Severity:  models.SeverityFor(diff, e.Settings.HighSeverityThreshold),
				})
				continue
			}
			return nil, err
		}
		actualAmount := balance.CurrentBalance.Sub(laterDelta[balanceId])
		actual[balanceId] = actualAmount

		diff := actualAmount.Sub(expectedAmount)
		if diff.Abs().GreaterThan(e.Tolerance) {
			discrepancies = append(discrepancies, discrepancy{
				BalanceId: balanceId,
				Expected:  expectedAmount,
				Actual:    actualAmount,
				Diff:      diff,
				Severity:  models.SeverityFor(diff, e.Settings.HighSeverityThreshold),
			})
		}
	}

	status := models.ReconciliationStatusReconciled
	if len(discrepancies) > 0 {
		status = models.ReconciliationStatusDiscrepancyFound
	}
	correlationId := models.CorrelationIdFromContextOrNew(ctx)

	var record *models.ReconciliationRecord
	err = e.Runner.InTransaction(ctx, func(tx *gorm.DB) error {
		existing, err := e.Repo.GetRecordByDate(ctx, tx, day)
		if err != nil {
			return err
		}
		if existing == nil {
			record = &models.ReconciliationRecord{
				ReconciliationDate: day,
				Status:             status,
				ExpectedBalances:   expected,
				ActualBalances:     actual,
				EntriesReplayed:    len(entries),
				AccountsChecked:    len(expected),
				DiscrepancyCount:   len(discrepancies),
				RunCount:           1,
				CorrelationId:      correlationId,
			}
			if err := e.Repo.CreateRecord(ctx, tx, record); err != nil {
				return err
			}
		} else {
			record = existing
			record.Status = status
			record.ExpectedBalances = expected
			record.ActualBalances = actual
			record.EntriesReplayed = len(entries)
			record.AccountsChecked = len(expected)
			record.DiscrepancyCount = len(discrepancies)
			record.RunCount = existing.RunCount + 1
			record.CorrelationId = correlationId
			if err := e.Repo.UpdateRecord(ctx, tx, record); err != nil {
				return err
			}
		}

		priorAlerts, err := e.Repo.AlertsForRecord(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		priorByBalance := map[int]*models.DiscrepancyAlert{}
		for i := range priorAlerts {
			priorByBalance[priorAlerts[i].BalanceId] = &priorAlerts[i]
		}

		for _, d := range discrepancies {
			prior := priorByBalance[d.BalanceId]
			if prior == nil {
				alert := &models.DiscrepancyAlert{
					ReconciliationRecordId: record.ID,
					BalanceId:              d.BalanceId,
					ExpectedAmount:         d.Expected,
					ActualAmount:           d.Actual,
					DifferenceAmount:       d.Diff,
					Severity:               d.Severity,
					Status:                 models.AlertStatusOpen,
					CorrelationId:          correlationId,
				}
				if err := e.Repo.CreateAlert(ctx, tx, alert); err != nil {
					return err
				}
				continue
			}
			// A resolved alert is history; a re-run never reopens it. An
			// open one is refreshed in place so re-runs cannot stack
			// duplicates for the same account.
			if prior.Status == models.AlertStatusResolved {
				continue
			}
			prior.ExpectedAmount = d.Expected
			prior.ActualAmount = d.Actual
			prior.DifferenceAmount = d.Diff
			prior.Severity = d.Severity
			prior.CorrelationId = correlationId
			if err := e.Repo.RefreshAlert(ctx, tx, prior); err != nil {
				return err
			}
		}

		if err := e.Audit.Record(tx, models.AuditActionReconcile, record.ID, models.ReferenceTypeReconciliation,
			nil, record, fmt.Sprintf("reconciled %s: %d entries, %d accounts, %d discrepancies",
				day.Format("2006-01-02"), len(entries), len(expected), len(discrepancies))); err != nil {
			return err
		}

		if status == models.ReconciliationStatusDiscrepancyFound {
			if err := e.Notify.Enqueue(ctx, tx, config.AlertTopic(), models.EventTypeDiscrepancyFound,
				record.ID, models.ReferenceTypeReconciliation, map[string]interface{}{
					"date":             day.Format("2006-01-02"),
					"discrepancyCount": len(discrepancies),
					"runCount":         record.RunCount,
				}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.WithFields(logrus.Fields{
		"module":           "workflow",
		"date":             day.Format("2006-01-02"),
		"status":           record.Status,
		"entriesReplayed":  record.EntriesReplayed,
		"accountsChecked":  record.AccountsChecked,
		"discrepancyCount": record.DiscrepancyCount,
		"runCount":         record.RunCount,
		"correlationId":    correlationId,
	}).Info("reconciliation completed")
	return record, nil
}

// ResolveAlertInput is the admin action closing one discrepancy alert.
type ResolveAlertInput struct {
	AlertId    int    `validate:"required,gt=0"`
	ResolvedBy int    `validate:"required,gt=0"`
	Notes      string `validate:"required"`
}

// ResolveAlert moves one alert OPEN -> RESOLVED. The transition is terminal
// and requires resolution notes; there is no other transition.
func (e *ReconciliationEngine) ResolveAlert(ctx context.Context, in ResolveAlertInput) (*models.DiscrepancyAlert, error) {
	if err := e.Validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, models.NewValidationError(fieldErrs[0].Field(), "failed "+fieldErrs[0].Tag()+" validation")
		}
		return nil, err
	}

	var resolved *models.DiscrepancyAlert
	err := e.Runner.InTransaction(ctx, func(tx *gorm.DB) error {
		alert, err := e.Repo.GetAlertForUpdate(ctx, tx, in.AlertId)
		if err != nil {
			return err
		}
		if alert.Status == models.AlertStatusResolved {
			return models.ErrAlertAlreadyResolved
		}

		before := *alert
		now := e.Clock.Now()
		alert.Status = models.AlertStatusResolved
		alert.ResolvedBy = &in.ResolvedBy
		alert.ResolvedAt = &now
		alert.ResolutionNotes = &in.Notes
		if err := e.Repo.SaveAlertResolution(ctx, tx, alert); err != nil {
			return err
		}

		if err := e.Audit.Record(tx, models.AuditActionResolveAlert, alert.ID, models.ReferenceTypeAlert,
			before, alert, fmt.Sprintf("resolved discrepancy alert %d for balance %d", alert.ID, alert.BalanceId)); err != nil {
			return err
		}
		resolved = alert
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"alertId":    resolved.ID,
		"balanceId":  resolved.BalanceId,
		"resolvedBy": in.ResolvedBy,
	}).Info("discrepancy alert resolved")
	return resolved, nil
}

// GormReconciliationRepository is the production ReconciliationRepository.
type GormReconciliationRepository struct{}

func (GormReconciliationRepository) GetRecordByDate(ctx context.Context, tx *gorm.DB, date time.Time) (*models.ReconciliationRecord, error) {
	return models.GetReconciliationRecordByDate(ctx, tx, date)
}

func (GormReconciliationRepository) CreateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error {
	return tx.Create(record).Error
}

func (GormReconciliationRepository) UpdateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error {
	return tx.Model(record).
		Select("Status", "ExpectedBalances", "ActualBalances", "EntriesReplayed",
			"AccountsChecked", "DiscrepancyCount", "RunCount", "CorrelationId").
		Updates(record).Error
}

func (GormReconciliationRepository) AlertsForRecord(ctx context.Context, tx *gorm.DB, recordId int) ([]models.DiscrepancyAlert, error) {
	var alerts []models.DiscrepancyAlert
	err := tx.WithContext(ctx).
		Where("reconciliation_record_id = ?", recordId).
		Order("balance_id ASC").
		Find(&alerts).Error
	return alerts, err
}

func (GormReconciliationRepository) CreateAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	return tx.Create(alert).Error
}

func (GormReconciliationRepository) RefreshAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	return tx.Model(alert).
		Select("ExpectedAmount", "ActualAmount", "DifferenceAmount", "Severity", "CorrelationId").
		Updates(alert).Error
}

func (GormReconciliationRepository) GetAlertForUpdate(ctx context.Context, tx *gorm.DB, alertId int) (*models.DiscrepancyAlert, error) {
	var alert models.DiscrepancyAlert
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&alert, alertId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewValidationError("alertId", "discrepancy alert not found")
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (GormReconciliationRepository) SaveAlertResolution(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	return tx.Model(alert).
		Select("Status", "ResolvedBy", "ResolvedAt", "ResolutionNotes").
		Updates(alert).Error
}
