package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/worker"
	"catalogsync/internal/worker/processors"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Scheduled actions: import batches, recovery and sweeps
	runner := scheduler.NewRunner(a.Queue, logger)
	worker.RegisterActions(runner, a.Importer, a.Sweeper, logger)
	if err := worker.ScheduleSweeps(ctx, a.Queue); err != nil {
		logger.Fatal("Failed to schedule sweeps: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Start(ctx, cfg.SchedulerPoll)
	}()

	// Kafka consumer for queued push requests
	if len(worker.Brokers(cfg.KafkaBrokers)) > 0 {
		w := worker.New(cfg, processors.NewEventProcessor(a.Pusher, logger), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
		defer w.Stop()
	} else {
		logger.Info("KAFKA_BROKERS not set, push events are not consumed")
	}

	logger.Info("Starting worker...")
	<-ctx.Done()

	logger.Info("Shutting down worker...")
	wg.Wait()
}
