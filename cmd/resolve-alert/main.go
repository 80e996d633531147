package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
	"github.com/google/uuid"
)

func main() {
	alertId := flag.Int("alert-id", 0, "Discrepancy alert id to resolve")
	actorId := flag.Int("actor-id", 0, "Admin actor id")
	notes := flag.String("notes", "", "How the discrepancy was investigated and fixed (required)")
	flag.Parse()

	if *alertId <= 0 || *actorId <= 0 || *notes == "" {
		fmt.Fprintln(os.Stderr, "usage: resolve-alert -alert-id N -actor-id N -notes TEXT")
		os.Exit(1)
	}

	logger := config.NewLogger()
	settings := config.LoadFinanceSettings(logger)

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	ctx := appctx.Set(context.Background(), appctx.ContextKeyActorId, *actorId)
	ctx = appctx.Set(ctx, appctx.ContextKeyActorName, "ResolveAlert")
	ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)
	ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, uuid.NewString())

	store := ledger.NewStore(db, logger)
	engine := workflow.NewReconciliationEngine(db, store, logger, settings)

	alert, err := engine.ResolveAlert(ctx, workflow.ResolveAlertInput{
		AlertId:    *alertId,
		ResolvedBy: *actorId,
		Notes:      *notes,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, models.PublicMessage(err))
		os.Exit(1)
	}

	fmt.Printf("alert %d resolved (balance %d, difference %s)\n",
		alert.ID, alert.BalanceId, alert.DifferenceAmount.StringFixed(2))
}
