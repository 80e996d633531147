package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/finance_backend/appctx"
	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// paymentMessage is the completed-transaction event published by the payment
// subsystem.
type paymentMessage struct {
	TransactionRef string `json:"transaction_ref"`
	Amount         string `json:"amount"`
	HospitalId     int    `json:"hospital_id"`
	Status         string `json:"status"`
	ActorId        int    `json:"actor_id"`
}

func paymentTopic() string {
	if v := os.Getenv("PUBSUB_TOPIC_PAYMENTS"); v != "" {
		return v
	}
	return "payment-transactions"
}

func paymentSubscription() string {
	if v := os.Getenv("PUBSUB_SUBSCRIPTION_PAYMENTS"); v != "" {
		return v
	}
	return "finance-revenue-distributor"
}

func main() {
	logger := config.NewLogger()
	settings := config.LoadFinanceSettings(logger)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	// Redis carries the rate cache and the cross-instance account locks. Both
	// degrade gracefully, so a redis outage only costs performance.
	rdb, lockClient, err := config.ConnectRedisWithRetry()
	if err != nil {
		logger.Warn("redis unavailable, running with row locks only: " + err.Error())
	}

	client, err := config.NewPubSubClient(sigCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init pubsub client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	topic, err := config.CreateTopicIfNotExists(sigCtx, client, paymentTopic())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure topic %q: %v\n", paymentTopic(), err)
		os.Exit(1)
	}
	sub, err := config.CreateSubscriptionIfNotExists(sigCtx, client, paymentSubscription(), topic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure subscription %q: %v\n", paymentSubscription(), err)
		os.Exit(1)
	}

	store := ledger.NewStore(db, logger)
	rates := workflow.CachedRateResolver{DB: db, Rdb: rdb, Logger: logger, Settings: settings}
	locks := workflow.NewAccountLocker(lockClient, logger)
	distributor := workflow.NewRevenueDistributor(db, store, rates, locks, logger, settings)

	logger.WithFields(logrus.Fields{
		"module":       "main",
		"topic":        paymentTopic(),
		"subscription": paymentSubscription(),
	}).Info("payment listener started")

	err = sub.Receive(sigCtx, func(ctx context.Context, msg *pubsub.Message) {
		var payment paymentMessage
		if err := json.Unmarshal(msg.Data, &payment); err != nil {
			logger.Warn("dropping undecodable payment message: " + err.Error())
			msg.Ack()
			return
		}

		ctx = appctx.Set(ctx, appctx.ContextKeyActorId, payment.ActorId)
		ctx = appctx.Set(ctx, appctx.ContextKeyActorName, "PaymentListener")
		ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, uuid.NewString())

		_, err := distributor.Distribute(ctx, workflow.DistributeInput{
			TransactionRef: payment.TransactionRef,
			GrossAmount:    payment.Amount,
			PayeeScopeId:   payment.HospitalId,
			Status:         payment.Status,
			ActorId:        payment.ActorId,
		})
		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, models.ErrDuplicateTransaction):
			// Redelivery of an already-distributed payment; the first posting
			// stands.
			msg.Ack()
		case isNonRetryable(err):
			logger.WithFields(logrus.Fields{
				"module":         "main",
				"transactionRef": payment.TransactionRef,
			}).Warn("dropping undistributable payment: " + models.PublicMessage(err))
			msg.Ack()
		default:
			config.LogError(logger, "main", "Receive", "distribution failed, message will be redelivered", payment.TransactionRef, err)
			msg.Nack()
		}
	})
	if err != nil && sigCtx.Err() == nil {
		fmt.Fprintf(os.Stderr, "subscription receive failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("payment listener stopped")
}

// isNonRetryable marks errors redelivery cannot fix: malformed input or a
// payee with no ledger account. Integrity failures stay retryable so they are
// not silently dropped before an operator sees them.
func isNonRetryable(err error) bool {
	var ve *models.ValidationError
	return errors.As(err, &ve) || errors.Is(err, models.ErrAccountNotFound)
}
