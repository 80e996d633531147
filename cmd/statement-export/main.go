package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models/reports"
	"bitbucket.org/mmdatafocus/finance_backend/utils"
)

func main() {
	balanceId := flag.Int("balance-id", 0, "Ledger balance id to export")
	fromStr := flag.String("from", "", "Start date inclusive (YYYY-MM-DD)")
	toStr := flag.String("to", "", "End date exclusive (YYYY-MM-DD). Defaults to tomorrow UTC.")
	out := flag.String("out", "statement.xlsx", "Output file path")
	flag.Parse()

	if *balanceId <= 0 || *fromStr == "" {
		fmt.Fprintln(os.Stderr, "usage: statement-export -balance-id N -from YYYY-MM-DD [-to YYYY-MM-DD] [-out file.xlsx]")
		os.Exit(1)
	}
	from, err := utils.ParseDate(*fromStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	to := time.Now().UTC().AddDate(0, 0, 1)
	if *toStr != "" {
		to, err = utils.ParseDate(*toStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	statement, err := reports.AccountStatement(context.Background(), db, *balanceId, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build statement: %v\n", err)
		os.Exit(1)
	}
	f, err := reports.ExportStatementExcel(statement)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render statement: %v\n", err)
		os.Exit(1)
	}
	if err := f.SaveAs(*out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d rows, closing balance %s)\n", *out, len(statement.Rows), statement.ClosingBalance.StringFixed(2))
}
