package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/stepflow/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "stepflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute workflow steps from the queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Queue name to consume",
				Value:   "executions",
				Sources: cli.EnvVars("QUEUE_NAME"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL: postgres://... or file://<path>",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the job queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "stuck-threshold-minutes",
				Usage:   "Minutes before a running execution is considered stuck",
				Value:   30,
				Sources: cli.EnvVars("STUCK_THRESHOLD_MINUTES"),
			},
			&cli.IntFlag{
				Name:    "retention-days",
				Usage:   "Days to keep terminal executions before cleanup",
				Value:   30,
				Sources: cli.EnvVars("RETENTION_DAYS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("stepflow-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Stepflow Worker")

			return run(ctx, command, workerID)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("stepflow-worker").Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}
