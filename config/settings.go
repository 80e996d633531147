package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FinanceSettings carries the tunable thresholds of the ledger core. Loaded
// once at startup and injected; a bad env value falls back to the default
// with a warning rather than aborting the job.
type FinanceSettings struct {
	// DefaultServiceChargeRate applies when a hospital has no configured
	// rate, or its configured rate is outside [MinServiceChargeRate,
	// MaxServiceChargeRate].
	DefaultServiceChargeRate decimal.Decimal
	MinServiceChargeRate     decimal.Decimal
	MaxServiceChargeRate     decimal.Decimal

	// MaxPostingAmount rejects absurdly large distributions before any
	// mutation.
	MaxPostingAmount decimal.Decimal

	// HighSeverityThreshold promotes a discrepancy alert to HIGH when the
	// absolute difference exceeds it.
	HighSeverityThreshold decimal.Decimal

	// Volume outlier detection for the health monitor.
	VolumeOutlierFactor     decimal.Decimal
	VolumeOutlierWindowDays int
	VolumeAbsoluteCeiling   decimal.Decimal

	// HealthScoreAlertBelow triggers an ops alert when the computed score
	// drops under it.
	HealthScoreAlertBelow int

	// PlatformOwnerId owns the single platform service-charge account.
	PlatformOwnerId int

	CurrencySymbol string
}

// LoadFinanceSettings reads env overrides:
//   - SERVICE_CHARGE_DEFAULT_RATE  (default 0.05)
//   - MAX_POSTING_AMOUNT           (default 10000000)
//   - DISCREPANCY_HIGH_THRESHOLD   (default 1000)
//   - VOLUME_OUTLIER_FACTOR        (default 3)
//   - VOLUME_OUTLIER_WINDOW_DAYS   (default 7)
//   - VOLUME_ABSOLUTE_CEILING      (default 5000000)
//   - HEALTH_SCORE_ALERT_BELOW     (default 80)
//   - PLATFORM_OWNER_ID            (default 1)
//   - CURRENCY_SYMBOL              (default "Ks")
func LoadFinanceSettings(logger *logrus.Logger) FinanceSettings {
	s := FinanceSettings{
		DefaultServiceChargeRate: decimal.NewFromFloat(0.05),
		MinServiceChargeRate:     decimal.Zero,
		MaxServiceChargeRate:     decimal.NewFromFloat(0.5),
		MaxPostingAmount:         decimal.NewFromInt(10000000),
		HighSeverityThreshold:    decimal.NewFromInt(1000),
		VolumeOutlierFactor:      decimal.NewFromInt(3),
		VolumeOutlierWindowDays:  7,
		VolumeAbsoluteCeiling:    decimal.NewFromInt(5000000),
		HealthScoreAlertBelow:    80,
		PlatformOwnerId:          1,
		CurrencySymbol:           "Ks",
	}

	s.DefaultServiceChargeRate = decimalFromEnv(logger, "SERVICE_CHARGE_DEFAULT_RATE", s.DefaultServiceChargeRate)
	s.MaxPostingAmount = decimalFromEnv(logger, "MAX_POSTING_AMOUNT", s.MaxPostingAmount)
	s.HighSeverityThreshold = decimalFromEnv(logger, "DISCREPANCY_HIGH_THRESHOLD", s.HighSeverityThreshold)
	s.VolumeOutlierFactor = decimalFromEnv(logger, "VOLUME_OUTLIER_FACTOR", s.VolumeOutlierFactor)
	s.VolumeOutlierWindowDays = intFromEnv("VOLUME_OUTLIER_WINDOW_DAYS", s.VolumeOutlierWindowDays)
	s.VolumeAbsoluteCeiling = decimalFromEnv(logger, "VOLUME_ABSOLUTE_CEILING", s.VolumeAbsoluteCeiling)
	s.HealthScoreAlertBelow = intFromEnv("HEALTH_SCORE_ALERT_BELOW", s.HealthScoreAlertBelow)
	s.PlatformOwnerId = intFromEnv("PLATFORM_OWNER_ID", s.PlatformOwnerId)
	if v := strings.TrimSpace(os.Getenv("CURRENCY_SYMBOL")); v != "" {
		s.CurrencySymbol = v
	}

	if s.DefaultServiceChargeRate.LessThan(s.MinServiceChargeRate) ||
		s.DefaultServiceChargeRate.GreaterThan(s.MaxServiceChargeRate) {
		logger.WithFields(logrus.Fields{
			"module": "config",
			"rate":   s.DefaultServiceChargeRate.String(),
		}).Warn("SERVICE_CHARGE_DEFAULT_RATE outside [0, 0.5]; using 0.05")
		s.DefaultServiceChargeRate = decimal.NewFromFloat(0.05)
	}
	return s
}

func decimalFromEnv(logger *logrus.Logger, key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"module": "config",
			"key":    key,
			"value":  v,
		}).Warn("unparseable decimal env value; using default")
		return def
	}
	return d
}
