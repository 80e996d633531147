package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthReader is the read slice the monitor scans. Pure reads; the monitor
// never mutates ledger state.
type HealthReader interface {
	ListActiveBalances(ctx context.Context) ([]models.AccountBalance, error)
	ListOpenAlerts(ctx context.Context) ([]models.DiscrepancyAlert, error)
	ListDailyVolumes(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error)
}

// NegativeBalance is one account that has gone below zero.
type NegativeBalance struct {
	BalanceId      int              `json:"balance_id"`
	OwnerType      models.OwnerType `json:"owner_type"`
	ScopeId        int              `json:"scope_id"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
}

// VolumeOutlier is one account-day whose posted volume broke a threshold.
type VolumeOutlier struct {
	BalanceId       int             `json:"balance_id"`
	Date            time.Time       `json:"date"`
	Volume          decimal.Decimal `json:"volume"`
	TrailingAverage decimal.Decimal `json:"trailing_average"`
	OverCeiling     bool            `json:"over_ceiling"`
}

// HealthReport is one scan's aggregate view of ledger health.
type HealthReport struct {
	CheckedAt               time.Time         `json:"checked_at"`
	TotalAccounts           int               `json:"total_accounts"`
	NegativeBalances        []NegativeBalance `json:"negative_balances"`
	OpenDiscrepancies       int               `json:"open_discrepancies"`
	HighSeverityOpen        int               `json:"high_severity_open"`
	OldestOpenAlertAgeHours float64           `json:"oldest_open_alert_age_hours"`
	VolumeOutliers          []VolumeOutlier   `json:"volume_outliers"`
	HealthScore             int               `json:"health_score"`
}

// Degraded reports whether the scan should raise an ops alert.
func (r *HealthReport) Degraded(scoreAlertBelow int) bool {
	return r.HealthScore < scoreAlertBelow ||
		len(r.NegativeBalances) > 0 ||
		r.HighSeverityOpen > 0 ||
		len(r.VolumeOutliers) > 0
}

// HealthMonitor periodically scans for negative balances, unresolved
// discrepancies, and daily volume outliers.
type HealthMonitor struct {
	Reader   HealthReader
	Runner   TxRunner
	Notify   Notifier
	Logger   *logrus.Logger
	Settings config.FinanceSettings
	Clock    Clock
}

func NewHealthMonitor(db *gorm.DB, logger *logrus.Logger, settings config.FinanceSettings) *HealthMonitor {
	return &HealthMonitor{
		Reader:   GormHealthReader{DB: db},
		Runner:   GormTxRunner{DB: db},
		Notify:   OutboxNotifier{},
		Logger:   logger,
		Settings: settings,
		Clock:    SystemClock{},
	}
}

// CheckHealth runs one scan. The score is
// 100 - negativeAccounts/totalAccounts*100, so an empty or fully healthy
// ledger scores 100.
func (m *HealthMonitor) CheckHealth(ctx context.Context) (*HealthReport, error) {
	ctx, span := tracer.Start(ctx, "HealthMonitor.CheckHealth")
	defer span.End()

	now := m.Clock.Now()
	report := &HealthReport{CheckedAt: now, HealthScore: 100}

	balances, err := m.Reader.ListActiveBalances(ctx)
	if err != nil {
		return nil, err
	}
	report.TotalAccounts = len(balances)
	for _, b := range balances {
		if b.CurrentBalance.IsNegative() {
			report.NegativeBalances = append(report.NegativeBalances, NegativeBalance{
				BalanceId:      b.ID,
				OwnerType:      b.OwnerType,
				ScopeId:        b.ScopeId,
				CurrentBalance: b.CurrentBalance,
			})
		}
	}
	if report.TotalAccounts > 0 {
		penalty := decimal.NewFromInt(int64(len(report.NegativeBalances))).
			Div(decimal.NewFromInt(int64(report.TotalAccounts))).
			Mul(decimal.NewFromInt(100))
		report.HealthScore = int(decimal.NewFromInt(100).Sub(penalty).Round(0).IntPart())
	}

	alerts, err := m.Reader.ListOpenAlerts(ctx)
	if err != nil {
		return nil, err
	}
	report.OpenDiscrepancies = len(alerts)
	for _, a := range alerts {
		if a.Severity == models.AlertSeverityHigh {
			report.HighSeverityOpen++
		}
	}
	if len(alerts) > 0 {
		report.OldestOpenAlertAgeHours = now.Sub(alerts[0].CreatedAt).Hours()
	}

	outliers, err := m.volumeOutliers(ctx, now)
	if err != nil {
		return nil, err
	}
	report.VolumeOutliers = outliers

	m.Logger.WithFields(logrus.Fields{
		"module":            "workflow",
		"totalAccounts":     report.TotalAccounts,
		"negativeBalances":  len(report.NegativeBalances),
		"openDiscrepancies": report.OpenDiscrepancies,
		"volumeOutliers":    len(report.VolumeOutliers),
		"healthScore":       report.HealthScore,
	}).Info("financial health scan completed")
	return report, nil
}

// volumeOutliers flags each account's most recent day against the absolute
// ceiling and against its own trailing-window average.
func (m *HealthMonitor) volumeOutliers(ctx context.Context, now time.Time) ([]VolumeOutlier, error) {
	windowDays := m.Settings.VolumeOutlierWindowDays
	if windowDays <= 0 {
		return nil, nil
	}
	from := now.AddDate(0, 0, -windowDays)
	volumes, err := m.Reader.ListDailyVolumes(ctx, from, now)
	if err != nil {
		return nil, err
	}

	byBalance := map[int][]models.DailyVolume{}
	for _, v := range volumes {
		byBalance[v.BalanceId] = append(byBalance[v.BalanceId], v)
	}

	var outliers []VolumeOutlier
	for balanceId, days := range byBalance {
		// days arrive oldest first; the last one is under test.
		latest := days[len(days)-1]

		if latest.Volume.GreaterThan(m.Settings.VolumeAbsoluteCeiling) {
			outliers = append(outliers, VolumeOutlier{
				BalanceId:   balanceId,
				Date:        latest.SummaryDate,
				Volume:      latest.Volume,
				OverCeiling: true,
			})
			continue
		}
		if len(days) < 2 {
			continue
		}

		sum := decimal.Zero
		for _, d := range days[:len(days)-1] {
			sum = sum.Add(d.Volume)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(days) - 1)))
		if avg.IsPositive() && latest.Volume.GreaterThan(avg.Mul(m.Settings.VolumeOutlierFactor)) {
			outliers = append(outliers, VolumeOutlier{
				BalanceId:       balanceId,
				Date:            latest.SummaryDate,
				Volume:          latest.Volume,
				TrailingAverage: avg,
			})
		}
	}
	return outliers, nil
}

// EmitAlert enqueues a degraded-health alert for the ops channel. The outbox
// write is the monitor's only mutation, and it never touches ledger tables.
func (m *HealthMonitor) EmitAlert(ctx context.Context, report *HealthReport) error {
	return m.Runner.InTransaction(ctx, func(tx *gorm.DB) error {
		return m.Notify.Enqueue(ctx, tx, config.AlertTopic(), models.EventTypeHealthDegraded,
			0, models.ReferenceTypeHealthReport, report)
	})
}

// GormHealthReader is the production HealthReader.
type GormHealthReader struct {
	DB *gorm.DB
}

func (r GormHealthReader) ListActiveBalances(ctx context.Context) ([]models.AccountBalance, error) {
	var balances []models.AccountBalance
	err := r.DB.WithContext(ctx).
		Where("is_active = true").
		Order("id ASC").
		Find(&balances).Error
	return balances, err
}

func (r GormHealthReader) ListOpenAlerts(ctx context.Context) ([]models.DiscrepancyAlert, error) {
	return models.ListOpenAlerts(ctx, r.DB)
}

func (r GormHealthReader) ListDailyVolumes(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error) {
	return models.ListDailyVolumes(ctx, r.DB, from, to)
}
