package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceChargeRate overrides the platform default per hospital scope.
type ServiceChargeRate struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ScopeId   int             `gorm:"not null;uniqueIndex" json:"scope_id"`
	Rate      decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	UpdatedBy int             `json:"updated_by"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func chargeRateCacheKey(scopeId int) string {
	return "chargeRate:" + fmt.Sprint(scopeId)
}

// EffectiveRate applies the bounds check to a stored rate. An in-range rate is
// used as-is; an out-of-range one is recovered to the platform default and
// reported as a ConfigurationError for the caller to log.
func EffectiveRate(settings config.FinanceSettings, stored decimal.Decimal) (decimal.Decimal, *ConfigurationError) {
	if stored.LessThan(settings.MinServiceChargeRate) || stored.GreaterThan(settings.MaxServiceChargeRate) {
		return settings.DefaultServiceChargeRate, &ConfigurationError{
			Setting: "service_charge_rate",
			Value:   stored.String(),
			Reason:  "outside [0, 0.5], falling back to platform default",
		}
	}
	return stored, nil
}

// ResolveServiceChargeRate returns the effective rate for a scope: the active
// configured rate when present and inside [min, max], else the platform
// default. An out-of-range configured rate is a recovered ConfigurationError,
// logged as a warning.
//
// Lookups go through redis first (the distributor runs on every completed
// payment); cache entries are invalidated on rate change.
func ResolveServiceChargeRate(ctx context.Context, db *gorm.DB, rdb *redis.Client, logger *logrus.Logger, settings config.FinanceSettings, scopeId int) decimal.Decimal {
	var cached string
	exists, err := config.GetRedisObject(ctx, rdb, chargeRateCacheKey(scopeId), &cached)
	if err == nil && exists {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate
		}
	}

	var record ServiceChargeRate
	err = db.WithContext(ctx).
		Where("scope_id = ? AND is_active = true", scopeId).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings.DefaultServiceChargeRate
	}
	if err != nil {
		config.LogError(logger, "models", "ResolveServiceChargeRate", "rate lookup", scopeId, err)
		return settings.DefaultServiceChargeRate
	}

	rate, cfgErr := EffectiveRate(settings, record.Rate)
	if cfgErr != nil {
		logger.WithFields(logrus.Fields{
			"module":  "models",
			"scopeId": scopeId,
			"rate":    record.Rate.String(),
		}).Warn(cfgErr.Error())
		return rate
	}

	if err := config.SetRedisObject(ctx, rdb, chargeRateCacheKey(scopeId), rate.String(), time.Hour); err != nil {
		logger.WithFields(logrus.Fields{
			"module":  "models",
			"scopeId": scopeId,
		}).Warn("failed to cache service charge rate: " + err.Error())
	}
	return rate
}

// SetServiceChargeRate upserts a scope rate and drops the cache entry. The
// rate must already be inside bounds; out-of-range values are rejected here
// rather than silently stored and recovered on every resolution.
func SetServiceChargeRate(ctx context.Context, db *gorm.DB, rdb *redis.Client, settings config.FinanceSettings, scopeId int, rate decimal.Decimal, updatedBy int) error {
	if _, cfgErr := EffectiveRate(settings, rate); cfgErr != nil {
		return NewValidationError("rate", "must be within [0, 0.5]")
	}

	err := db.WithContext(ctx).Exec(`
		INSERT INTO service_charge_rates (scope_id, rate, is_active, updated_by, created_at, updated_at)
		VALUES (?, ?, true, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE rate = VALUES(rate), is_active = true, updated_by = VALUES(updated_by), updated_at = NOW()
	`, scopeId, rate, updatedBy).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(ctx, rdb, chargeRateCacheKey(scopeId))
}
