package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/utils"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
	"github.com/google/uuid"
)

// balance-correct applies one manual balance correction: an audited
// ADJUSTMENT posting that sets the account to the stated target. Admin-only
// by deployment policy; the actor id is recorded on every row it writes.
func main() {
	balanceId := flag.Int("balance-id", 0, "Ledger balance id to correct")
	target := flag.String("target", "", "Target balance the account should end at")
	reason := flag.String("reason", "", "Why the correction is needed (required)")
	evidencePath := flag.String("evidence", "", "Optional path to an evidence file (receipt, statement)")
	actorId := flag.Int("actor-id", 0, "Admin actor id")
	flag.Parse()

	if *balanceId <= 0 || *target == "" || *reason == "" || *actorId <= 0 {
		fmt.Fprintln(os.Stderr, "usage: balance-correct -balance-id N -target AMOUNT -reason TEXT -actor-id N [-evidence file]")
		os.Exit(1)
	}

	logger := config.NewLogger()

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	rdb, lockClient, err := config.ConnectRedisWithRetry()
	if err != nil {
		logger.Warn("redis unavailable, numbering reseeds from database: " + err.Error())
	}

	var evidence []byte
	evidenceName := ""
	if *evidencePath != "" {
		evidence, err = os.ReadFile(*evidencePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read evidence file: %v\n", err)
			os.Exit(1)
		}
		evidenceName = utils.GenerateUniqueFilename() + "_" + filepath.Base(*evidencePath)
	}

	// Evidence storage is optional infrastructure; without a bucket the
	// correction proceeds on the reason text alone.
	var store workflow.EvidenceStore
	if gcs, err := utils.NewGCSEvidenceStore(); err == nil {
		store = gcs
	} else if len(evidence) > 0 {
		logger.Warn("evidence storage not configured, proceeding without attachment: " + err.Error())
	}

	ctx := appctx.Set(context.Background(), appctx.ContextKeyActorId, *actorId)
	ctx = appctx.Set(ctx, appctx.ContextKeyActorName, "BalanceCorrect")
	ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)
	ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, uuid.NewString())

	ledgerStore := ledger.NewStore(db, logger)
	service := workflow.NewCorrectionService(db, ledgerStore,
		utils.CorrectionSequence{DB: db, Rdb: rdb}, store,
		workflow.NewAccountLocker(lockClient, logger), logger)

	correction, err := service.Correct(ctx, workflow.CorrectionInput{
		BalanceId:     *balanceId,
		TargetBalance: *target,
		Reason:        *reason,
		EvidenceName:  evidenceName,
		Evidence:      evidence,
		AdminActorId:  *actorId,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, models.PublicMessage(err))
		os.Exit(1)
	}

	fmt.Printf("%s: balance %d corrected %s -> %s (difference %s)\n",
		correction.CorrectionNumber, correction.BalanceId,
		correction.OriginalBalance.StringFixed(2), correction.CorrectedBalance.StringFixed(2),
		correction.DifferenceAmount.StringFixed(2))
}
