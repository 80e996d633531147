package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// set-charge-rate configures a hospital's service-charge rate override. The
// rate must be inside [0, 0.5]; the platform default applies to scopes with
// no override.
func main() {
	scopeId := flag.Int("scope-id", 0, "Hospital scope id")
	rateStr := flag.String("rate", "", "Service charge rate as a fraction, e.g. 0.05")
	actorId := flag.Int("actor-id", 0, "Admin actor id")
	flag.Parse()

	if *scopeId <= 0 || *rateStr == "" || *actorId <= 0 {
		fmt.Fprintln(os.Stderr, "usage: set-charge-rate -scope-id N -rate 0.05 -actor-id N")
		os.Exit(1)
	}
	rate, err := decimal.NewFromString(*rateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unparseable rate %q\n", *rateStr)
		os.Exit(1)
	}

	logger := config.NewLogger()
	settings := config.LoadFinanceSettings(logger)

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	rdb, _, err := config.ConnectRedisWithRetry()
	if err != nil {
		logger.Warn("redis unavailable, rate cache invalidation skipped: " + err.Error())
	}

	ctx := appctx.Set(context.Background(), appctx.ContextKeyActorId, *actorId)
	ctx = appctx.Set(ctx, appctx.ContextKeyActorName, "SetChargeRate")
	ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)
	ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, uuid.NewString())

	previous := models.ResolveServiceChargeRate(ctx, db, rdb, logger, settings, *scopeId)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.SetServiceChargeRate(ctx, tx, rdb, settings, *scopeId, rate, *actorId); err != nil {
			return err
		}
		return models.CreateAuditEvent(tx, models.AuditActionRateChange, *scopeId, models.ReferenceTypeChargeRate,
			map[string]interface{}{"rate": previous.String()},
			map[string]interface{}{"rate": rate.String()},
			fmt.Sprintf("service charge rate for scope %d set to %s", *scopeId, rate.String()))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, models.PublicMessage(err))
		os.Exit(1)
	}

	fmt.Printf("scope %d service charge rate: %s -> %s\n", *scopeId, previous.String(), rate.String())
}
