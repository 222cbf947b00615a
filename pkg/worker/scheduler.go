package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/execution"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/queue"
)

// Scheduler runs the maintenance sweeps around the worker pool: promoting
// failed executions into the retry cycle, re-enqueuing retries whose backoff
// elapsed, force-failing stuck executions, and cleaning up old records.
type Scheduler struct {
	queueName      string
	manager        *execution.Manager
	queues         queue.QueueService
	stuckThreshold time.Duration
	retentionDays  int
	logger         *slog.Logger
}

func NewScheduler(queueName string, manager *execution.Manager, queues queue.QueueService, stuckThreshold time.Duration, retentionDays int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queueName:      queueName,
		manager:        manager,
		queues:         queues,
		stuckThreshold: stuckThreshold,
		retentionDays:  retentionDays,
		logger:         logger.With("module", "scheduler", "queue", queueName),
	}
}

// SweepRetries advances the retry cycle. Failed executions still eligible
// for automatic retry move to the retrying state with a backoff schedule;
// retrying executions whose backoff elapsed get a fresh queue job and go
// back to pending.
func (s *Scheduler) SweepRetries(ctx context.Context) {
	retryable, err := s.manager.GetRetryableExecutions(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list retryable executions", "error", err)
	}

	for _, exec := range retryable {
		_, err := s.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusRetrying, execution.StatusUpdate{
			Error:   exec.Error,
			Backoff: execution.DefaultBackoff(exec.AttemptCount + 1),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to schedule retry", "execution_id", exec.ID, "error", err)

			continue
		}

		s.logger.InfoContext(ctx, "Scheduled retry", "execution_id", exec.ID, "attempt", exec.AttemptCount+1)
	}

	due, err := s.manager.GetDueRetries(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due retries", "error", err)

		return
	}

	for _, exec := range due {
		s.enqueueRetry(ctx, exec)
	}
}

// enqueueRetry gives a due execution a fresh queue job. The job payload is
// rebuilt from the metadata captured at submission time. The execution is
// marked pending with the job bound before the enqueue, because a worker
// can dequeue the job the moment it exists and drops jobs whose execution
// is not pending.
func (s *Scheduler) enqueueRetry(ctx context.Context, exec *models.WorkflowExecution) {
	job := &queue.Job{
		ID:          "job-" + uuid.New().String()[:8],
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Payload: map[string]any{
			"steps":      exec.Metadata["steps"],
			"parameters": exec.Metadata["parameters"],
		},
	}

	if _, err := s.manager.PrepareRetryDispatch(ctx, exec.ID, job.ID, s.queueName); err != nil {
		s.logger.ErrorContext(ctx, "Failed to mark execution pending", "execution_id", exec.ID, "error", err)

		return
	}

	if err := s.queues.Enqueue(ctx, s.queueName, job); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue retry job", "execution_id", exec.ID, "error", err)

		if abortErr := s.manager.AbortRetryDispatch(ctx, exec.ID); abortErr != nil {
			s.logger.ErrorContext(ctx, "Failed to return execution to retrying", "execution_id", exec.ID, "error", abortErr)
		}

		return
	}

	s.logger.InfoContext(ctx, "Re-enqueued execution for retry", "execution_id", exec.ID, "job_id", job.ID)
}

// SweepStuck force-fails running executions whose worker stopped reporting
// within the liveness threshold.
func (s *Scheduler) SweepStuck(ctx context.Context) {
	stuck, err := s.manager.GetStuckExecutions(ctx, s.stuckThreshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list stuck executions", "error", err)

		return
	}

	for _, exec := range stuck {
		s.logger.WarnContext(ctx, "Force-failing stuck execution",
			"execution_id", exec.ID,
			"started_at", exec.StartedAt,
		)

		_, err := s.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusFailed, execution.StatusUpdate{
			Error: "WORKER_TIMEOUT",
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fail stuck execution", "execution_id", exec.ID, "error", err)
		}
	}
}

// SweepCleanup deletes terminal executions older than the retention window.
func (s *Scheduler) SweepCleanup(ctx context.Context) {
	if _, err := s.manager.CleanupOldExecutions(ctx, s.retentionDays); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clean up old executions", "error", err)
	}
}
