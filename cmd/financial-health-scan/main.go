package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
)

func main() {
	logger := config.NewLogger()
	settings := config.LoadFinanceSettings(logger)

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	monitor := workflow.NewHealthMonitor(db, logger, settings)
	report, err := monitor.CheckHealth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health scan failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if report.Degraded(settings.HealthScoreAlertBelow) {
		if err := monitor.EmitAlert(ctx, report); err != nil {
			fmt.Fprintf(os.Stderr, "failed to enqueue health alert: %v\n", err)
			os.Exit(1)
		}
		os.Exit(2)
	}
}
