package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/stepflow/pkg/execution"
	"github.com/dukex/stepflow/pkg/executors/apicall"
	"github.com/dukex/stepflow/pkg/executors/condition"
	"github.com/dukex/stepflow/pkg/executors/custom"
	"github.com/dukex/stepflow/pkg/executors/transform"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/queue/redis"
	"github.com/dukex/stepflow/pkg/runner"
	"github.com/dukex/stepflow/pkg/worker"
)

func run(ctx context.Context, command *cli.Command, workerID string) error {
	logger := slog.Default().With("worker_id", workerID)

	store, err := setupPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	queueService, err := redis.NewQueue(ctx, redis.Config{
		Addr:     command.String("redis-addr"),
		Password: command.String("redis-password"),
	}, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := queueService.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	manager := execution.NewManager(store.Executions(), queueService, logger)

	stepRunner, err := setupRunner(store.ExecutionLogs(), logger)
	if err != nil {
		return err
	}

	queueName := command.String("queue")

	w := worker.NewWorker(workerID, queueName, manager, stepRunner, queueService, logger)
	w.Start(ctx)

	scheduler := worker.NewScheduler(
		queueName,
		manager,
		queueService,
		time.Duration(command.Int("stuck-threshold-minutes"))*time.Minute,
		int(command.Int("retention-days")),
		logger,
	)

	crontab := cron.New()

	if _, err := crontab.AddFunc("* * * * *", func() { scheduler.SweepRetries(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule retry sweep: %w", err)
	}

	if _, err := crontab.AddFunc("*/5 * * * *", func() { scheduler.SweepStuck(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule stuck sweep: %w", err)
	}

	if _, err := crontab.AddFunc("0 3 * * *", func() { scheduler.SweepCleanup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup sweep: %w", err)
	}

	crontab.Start()

	logger.InfoContext(ctx, "Worker running", "queue", queueName)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	crontab.Stop()
	w.Stop(ctx)

	return nil
}

func setupPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	if path, ok := strings.CutPrefix(databaseURL, "file://"); ok {
		return file.NewPersistence(path), nil
	}

	return postgresql.NewPersistence(ctx, logger, databaseURL)
}

func setupRunner(logSink protocol.LogSink, logger *slog.Logger) (*runner.Runner, error) {
	stepRunner := runner.NewRunner(logSink, logger)

	factories := []protocol.StepExecutorFactory{
		custom.NewFactory(),
		transform.NewFactory(),
		condition.NewFactory(),
		apicall.NewFactory(apicall.NewEnvConnectionResolver()),
	}

	for _, factory := range factories {
		if err := stepRunner.Register(factory); err != nil {
			return nil, err
		}
	}

	return stepRunner, nil
}
