package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/money"
)

// ledger-verify sweeps every account: the stored balance fields must satisfy
// current == credits - debits, and the balance re-derived from the full entry
// log must match the stored one. Reconciliation covers single days; this is
// the full-history check run before audits.
func main() {
	logger := config.NewLogger()

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store := ledger.NewStore(db, logger)

	balances, err := store.ListActiveBalances(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list balances: %v\n", err)
		os.Exit(1)
	}

	violations := 0
	for _, balance := range balances {
		if err := store.VerifyInvariant(ctx, balance.ID); err != nil {
			violations++
			fmt.Printf("balance %d: stored fields violate invariant: %v\n", balance.ID, err)
			continue
		}
		derived, err := store.DeriveBalanceFromEntries(ctx, balance.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "balance %d: replay failed: %v\n", balance.ID, err)
			os.Exit(1)
		}
		if derived.Sub(balance.CurrentBalance).Abs().GreaterThan(money.DefaultTolerance) {
			violations++
			fmt.Printf("balance %d: stored %s but ledger derives %s\n",
				balance.ID, balance.CurrentBalance.StringFixed(2), derived.StringFixed(2))
		}
	}

	fmt.Printf("verified %d balances, %d violations\n", len(balances), violations)
	if violations > 0 {
		os.Exit(2)
	}
}
