package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/workflow"
)

func main() {
	logger := config.NewLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}

	client, err := config.NewPubSubClient(sigCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init pubsub client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	for _, topic := range []string{config.NotificationTopic(), config.AlertTopic()} {
		if _, err := config.CreateTopicIfNotExists(sigCtx, client, topic); err != nil {
			fmt.Fprintf(os.Stderr, "failed to ensure topic %q: %v\n", topic, err)
			os.Exit(1)
		}
	}

	dispatcher := workflow.NewOutboxDispatcher(db, workflow.PubSubPublisher{Client: client}, logger)
	logger.Info("notification dispatcher started")
	dispatcher.Run(sigCtx)
	logger.Info("notification dispatcher stopped")
}
