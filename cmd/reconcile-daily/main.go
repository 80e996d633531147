package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/models/reports"
	"bitbucket.org/mmdatafocus/finance_backend/utils"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
	"github.com/google/uuid"
)

func main() {
	dateStr := flag.String("date", "", "Day to reconcile (YYYY-MM-DD). Defaults to yesterday UTC.")
	daysBack := flag.Int("days-back", 1, "Reconcile this many days ending at -date (re-runs absorb late entries).")
	excelDir := flag.String("excel-dir", "", "Write per-day reconciliation spreadsheets into this directory.")
	flag.Parse()

	logger := config.NewLogger()
	settings := config.LoadFinanceSettings(logger)

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	endDay := time.Now().UTC().AddDate(0, 0, -1)
	if *dateStr != "" {
		endDay, err = utils.ParseDate(*dateStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}
	if *daysBack < 1 {
		*daysBack = 1
	}

	ctx := appctx.Set(context.Background(), appctx.ContextKeyActorName, "ReconcileDaily")
	ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, uuid.NewString())

	store := ledger.NewStore(db, logger)
	engine := workflow.NewReconciliationEngine(db, store, logger, settings)

	discrepancyDays := 0
	for i := *daysBack - 1; i >= 0; i-- {
		day := endDay.AddDate(0, 0, -i)
		record, err := engine.Reconcile(ctx, day)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile %s failed: %v\n", day.Format("2006-01-02"), err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s (%d entries, %d accounts, %d discrepancies, run %d)\n",
			day.Format("2006-01-02"), record.Status, record.EntriesReplayed,
			record.AccountsChecked, record.DiscrepancyCount, record.RunCount)
		if record.Status == models.ReconciliationStatusDiscrepancyFound {
			discrepancyDays++
		}
		if *excelDir != "" {
			f, err := reports.ExportReconciliationExcel(ctx, db, record)
			if err != nil {
				fmt.Fprintf(os.Stderr, "export %s failed: %v\n", day.Format("2006-01-02"), err)
				os.Exit(1)
			}
			path := filepath.Join(*excelDir, "reconciliation_"+day.Format("2006-01-02")+".xlsx")
			if err := f.SaveAs(path); err != nil {
				fmt.Fprintf(os.Stderr, "write %s failed: %v\n", path, err)
				os.Exit(1)
			}
		}
	}
	if discrepancyDays > 0 {
		os.Exit(2)
	}
}
