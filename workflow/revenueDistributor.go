package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/money"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("finance-backend")

// TransactionStatusCompleted is the only payment status eligible for
// distribution; everything else about the payment lives outside this core.
const TransactionStatusCompleted = "completed"

// RateResolver returns the effective service-charge rate for a payee scope.
type RateResolver interface {
	Resolve(ctx context.Context, scopeId int) decimal.Decimal
}

// CachedRateResolver is the production RateResolver: scope rates from the
// database through the redis cache, platform default on any miss or
// out-of-range value.
type CachedRateResolver struct {
	DB       *gorm.DB
	Rdb      *redis.Client
	Logger   *logrus.Logger
	Settings config.FinanceSettings
}

func (r CachedRateResolver) Resolve(ctx context.Context, scopeId int) decimal.Decimal {
	return models.ResolveServiceChargeRate(ctx, r.DB, r.Rdb, r.Logger, r.Settings, scopeId)
}

// DistributionStore persists distribution records.
type DistributionStore interface {
	CreateDistribution(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error
	LinkDistributionEntries(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error
}

// DistributeInput is one completed payment handed over by the payment
// subsystem.
type DistributeInput struct {
	TransactionRef string `validate:"required,max=100"`
	GrossAmount    string `validate:"required"`
	PayeeScopeId   int    `validate:"required,gt=0"`
	Status         string `validate:"required"`
	ActorId        int
}

// DistributionResult reports what one distribution posted.
type DistributionResult struct {
	RecordId        int
	TransactionRef  string
	Gross           money.Money
	ServiceCharge   money.Money
	PayeeAmount     money.Money
	Rate            decimal.Decimal
	PayeeBalance    money.Money
	PlatformBalance money.Money
	CorrelationId   string
}

// RevenueDistributor splits a completed payment into the platform service
// charge and the payee share, posting both credits in one transaction.
type RevenueDistributor struct {
	Runner   TxRunner
	Ledger   Ledger
	Store    DistributionStore
	Rates    RateResolver
	Locks    *AccountLocker
	Notify   Notifier
	Audit    AuditRecorder
	Logger   *logrus.Logger
	Settings config.FinanceSettings
	Validate *validator.Validate
}

func NewRevenueDistributor(db *gorm.DB, store *ledger.Store, rates RateResolver, locks *AccountLocker, logger *logrus.Logger, settings config.FinanceSettings) *RevenueDistributor {
	return &RevenueDistributor{
		Runner:   GormTxRunner{DB: db},
		Ledger:   store,
		Store:    GormDistributionStore{},
		Rates:    rates,
		Locks:    locks,
		Notify:   OutboxNotifier{},
		Audit:    ModelAuditRecorder{},
		Logger:   logger,
		Settings: settings,
		Validate: validator.New(),
	}
}

// ComputeSplit derives the service charge and payee share from a gross
// amount. Both sides are rounded independently and the sum re-checked, so a
// rounding bug can never silently mint or burn money.
func ComputeSplit(gross money.Money, rate decimal.Decimal) (serviceCharge money.Money, payeeAmount money.Money, err error) {
	serviceCharge = gross.Percentage(rate)
	payeeAmount = gross.Sub(serviceCharge)
	if !serviceCharge.Add(payeeAmount).EqualsWithinTolerance(gross) {
		return money.Zero(), money.Zero(), &models.CalculationError{
			Gross:         gross.Decimal(),
			ServiceCharge: serviceCharge.Decimal(),
			PayeeAmount:   payeeAmount.Decimal(),
		}
	}
	return serviceCharge, payeeAmount, nil
}

// Distribute validates the payment, resolves the rate, and posts both sides
// of the split atomically. Calling it twice with the same TransactionRef
// fails with ErrDuplicateTransaction; the first posting stands.
func (d *RevenueDistributor) Distribute(ctx context.Context, in DistributeInput) (*DistributionResult, error) {
	ctx, span := tracer.Start(ctx, "RevenueDistributor.Distribute")
	defer span.End()

	if err := d.validateInput(in); err != nil {
		return nil, err
	}

	gross, err := money.Parse(in.GrossAmount)
	if err != nil {
		return nil, models.NewValidationError("grossAmount", err.Error())
	}
	if !gross.IsPositive() {
		return nil, models.NewValidationError("grossAmount", "must be positive")
	}
	if gross.Decimal().GreaterThan(d.Settings.MaxPostingAmount) {
		return nil, models.NewValidationError("grossAmount",
			fmt.Sprintf("exceeds maximum posting amount %s", d.Settings.MaxPostingAmount.String()))
	}

	rate := d.Rates.Resolve(ctx, in.PayeeScopeId)
	serviceCharge, payeeAmount, err := ComputeSplit(gross, rate)
	if err != nil {
		config.LogError(d.Logger, "workflow", "Distribute", "split failed arithmetic check", in, err)
		return nil, err
	}

	// Serialize distributions for this payee across instances before the
	// transaction so the row lock inside it is uncontended in the common
	// case.
	release, err := d.Locks.Obtain(ctx, PayeeLockKey(in.PayeeScopeId))
	if err != nil {
		return nil, err
	}
	defer release()

	result := &DistributionResult{
		TransactionRef: in.TransactionRef,
		Gross:          gross,
		ServiceCharge:  serviceCharge,
		PayeeAmount:    payeeAmount,
		Rate:           rate,
		CorrelationId:  models.CorrelationIdFromContextOrNew(ctx),
	}

	err = d.Runner.InTransaction(ctx, func(tx *gorm.DB) error {
		record := &models.DistributionRecord{
			TransactionRef:    in.TransactionRef,
			GrossAmount:       gross.Decimal(),
			ServiceChargeRate: rate,
			ServiceCharge:     serviceCharge.Decimal(),
			PayeeAmount:       payeeAmount.Decimal(),
			PayeeScopeId:      in.PayeeScopeId,
			ActorId:           in.ActorId,
			CorrelationId:     result.CorrelationId,
		}
		if err := d.Store.CreateDistribution(ctx, tx, record); err != nil {
			if models.IsDuplicateKeyErr(err) {
				return models.ErrDuplicateTransaction
			}
			return err
		}

		payeeBalance, payeeEntry, err := d.Ledger.Post(ctx, tx, ledger.PostInput{
			OwnerId:                in.PayeeScopeId,
			OwnerType:              models.OwnerTypePayee,
			ScopeId:                in.PayeeScopeId,
			Amount:                 payeeAmount,
			EntryType:              models.EntryTypeCredit,
			ExternalTransactionRef: &in.TransactionRef,
			ActorId:                in.ActorId,
			Description:            fmt.Sprintf("revenue share for transaction %s", in.TransactionRef),
		})
		if err != nil {
			return err
		}

		platformBalance, platformEntry, err := d.Ledger.Post(ctx, tx, ledger.PostInput{
			OwnerId:                d.Settings.PlatformOwnerId,
			OwnerType:              models.OwnerTypePlatformAdmin,
			ScopeId:                0,
			Amount:                 serviceCharge,
			EntryType:              models.EntryTypeCredit,
			ExternalTransactionRef: &in.TransactionRef,
			ActorId:                in.ActorId,
			Description:            fmt.Sprintf("service charge for transaction %s", in.TransactionRef),
		})
		if err != nil {
			return err
		}

		// Post-hoc: both deltas must sum back to gross. A failure here is a
		// posting bug, rolled back and escalated, never retried by callers.
		posted := payeeEntry.Amount.Add(platformEntry.Amount)
		if posted.Sub(gross.Decimal()).Abs().GreaterThan(money.DefaultTolerance) {
			intErr := &models.IntegrityError{
				Op:        "distribute",
				BalanceId: payeeBalance.ID,
				Detail:    fmt.Sprintf("posted %s for gross %s (transaction %s)", posted.String(), gross.String(), in.TransactionRef),
			}
			config.LogError(d.Logger, "workflow", "Distribute", "post-hoc delta verification", record, intErr)
			return intErr
		}

		record.PayeeBalanceId = payeeBalance.ID
		record.PlatformBalanceId = platformBalance.ID
		record.PayeeEntryId = payeeEntry.ID
		record.PlatformEntryId = platformEntry.ID
		if err := d.Store.LinkDistributionEntries(ctx, tx, record); err != nil {
			return err
		}

		if err := d.Audit.Record(tx, models.AuditActionDistribute, record.ID, models.ReferenceTypeDistribution,
			nil, record, fmt.Sprintf("distributed %s: payee %s, platform %s", gross.String(), payeeAmount.String(), serviceCharge.String())); err != nil {
			return err
		}

		// Same transaction: the notification row commits with the postings
		// and is published after commit. A publish failure later never
		// touches this distribution.
		if err := d.Notify.Enqueue(ctx, tx, config.NotificationTopic(), models.EventTypeRevenueDistributed,
			record.ID, models.ReferenceTypeDistribution, map[string]interface{}{
				"transactionRef": in.TransactionRef,
				"payeeScopeId":   in.PayeeScopeId,
				"payeeAmount":    payeeAmount.String(),
				"serviceCharge":  serviceCharge.String(),
				"grossAmount":    gross.String(),
			}); err != nil {
			return err
		}

		result.RecordId = record.ID
		result.PayeeBalance = money.New(payeeBalance.CurrentBalance)
		result.PlatformBalance = money.New(platformBalance.CurrentBalance)
		return nil
	})
	if err != nil {
		if models.IsCritical(err) {
			config.LogError(d.Logger, "workflow", "Distribute", "distribution rolled back", in, err)
		}
		return nil, err
	}

	d.Logger.WithFields(logrus.Fields{
		"module":         "workflow",
		"transactionRef": in.TransactionRef,
		"payeeScopeId":   in.PayeeScopeId,
		"gross":          gross.String(),
		"serviceCharge":  serviceCharge.String(),
		"payeeAmount":    payeeAmount.String(),
		"correlationId":  result.CorrelationId,
	}).Info("revenue distributed")
	return result, nil
}

func (d *RevenueDistributor) validateInput(in DistributeInput) error {
	if err := d.Validate.Struct(in); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return models.NewValidationError(first.Field(), "failed "+first.Tag()+" validation")
		}
		return err
	}
	if in.Status != TransactionStatusCompleted {
		return models.NewValidationError("status", "only completed transactions are distributed")
	}
	return nil
}

// GormDistributionStore is the production DistributionStore.
type GormDistributionStore struct{}

func (GormDistributionStore) CreateDistribution(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error {
	return tx.Create(record).Error
}

func (GormDistributionStore) LinkDistributionEntries(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error {
	return tx.Model(&models.DistributionRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"payee_balance_id":    record.PayeeBalanceId,
			"platform_balance_id": record.PlatformBalanceId,
			"payee_entry_id":      record.PayeeEntryId,
			"platform_entry_id":   record.PlatformEntryId,
		}).Error
}
