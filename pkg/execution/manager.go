// Package execution owns the lifecycle of workflow executions: creation,
// status transitions, retry eligibility, pause/resume/cancel, progress and
// metrics, and cleanup of old records.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/queue"
)

const (
	defaultMaxAttempts  = 3
	recentSampleLimit   = 10
	defaultQueueTimeout = 5 * time.Second
)

var (
	// ErrNotPaused indicates a resume was requested for an execution that
	// is not paused.
	ErrNotPaused = errors.New("execution is not paused")

	// ErrTerminalStatus indicates an operation was requested on an
	// execution that already reached a terminal status.
	ErrTerminalStatus = errors.New("execution is in a terminal status")

	// ErrNotFailed indicates a reset was requested for an execution that
	// has not failed.
	ErrNotFailed = errors.New("execution has not failed")

	// deadEndStatuses are the statuses with no outgoing transition. Failed
	// is terminal for reporting but not a dead end, since the retry cycle
	// can move it back to retrying.
	deadEndStatuses = []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusCancelled,
	}
)

// Manager is the single mutation path for workflow execution records. It is
// a synchronous façade over the repository and the queue collaborator;
// concurrency lives in the workers that call it.
type Manager struct {
	repository persistence.ExecutionRepository
	queues     queue.QueueService
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewManager(repository persistence.ExecutionRepository, queues queue.QueueService, logger *slog.Logger) *Manager {
	return &Manager{
		repository: repository,
		queues:     queues,
		validate:   validator.New(),
		logger:     logger.With("module", "execution_manager"),
	}
}

// CreateExecutionParams carries everything needed to start tracking a run.
type CreateExecutionParams struct {
	WorkflowID  string         `validate:"required"`
	UserID      string         `validate:"required"`
	TotalSteps  int            `validate:"gte=0"`
	MaxAttempts int            `validate:"gte=0"`
	Metadata    map[string]any `validate:"-"`
}

// CreateExecution persists a new execution in the pending state.
func (m *Manager) CreateExecution(ctx context.Context, params CreateExecutionParams) (*models.WorkflowExecution, error) {
	if err := m.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid execution parameters: %w", err)
	}

	if params.MaxAttempts == 0 {
		params.MaxAttempts = defaultMaxAttempts
	}

	now := time.Now().UTC()

	execution := &models.WorkflowExecution{
		ID:          "exec-" + uuid.New().String(),
		WorkflowID:  params.WorkflowID,
		UserID:      params.UserID,
		Status:      models.ExecutionStatusPending,
		TotalSteps:  params.TotalSteps,
		MaxAttempts: params.MaxAttempts,
		Metadata:    params.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.repository.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	m.logger.InfoContext(ctx, "Created execution",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"total_steps", execution.TotalSteps,
	)

	return execution, nil
}

// GetExecution returns an execution by id.
func (m *Manager) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return m.repository.FindByID(ctx, id)
}

// ProgressUpdate carries worker progress deltas. Step counters are deltas,
// not absolutes, so reports from a worker never clobber each other.
type ProgressUpdate struct {
	CurrentStep         *int
	CompletedStepsDelta int
	FailedStepsDelta    int
	StepResults         map[string]models.StepResult
}

// StatusUpdate carries the optional side data of a status transition.
type StatusUpdate struct {
	Progress *ProgressUpdate
	Error    string         // classification for FAILED / RETRYING
	Backoff  time.Duration  // RETRYING delay; DefaultBackoff applies when zero
	Result   map[string]any // final payload for COMPLETED
}

// UpdateStatus applies a status transition with its bookkeeping side
// effects: RUNNING stamps startedAt on first entry, RETRYING increments the
// attempt count and schedules retryAfter, and terminal statuses stamp
// completedAt and the total execution time.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, update StatusUpdate) (*models.WorkflowExecution, error) {
	current, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Completed and cancelled are dead ends. Failed is not: the retry cycle
	// moves failed executions back to retrying. The deny list repeats the
	// check inside the repository patch, so a concurrent cancel cannot slip
	// in between this read and the update.
	if current.Status == models.ExecutionStatusCompleted || current.Status == models.ExecutionStatusCancelled {
		return nil, fmt.Errorf("cannot move execution %s out of %s: %w", id, current.Status, ErrTerminalStatus)
	}

	now := time.Now().UTC()
	patch := persistence.ExecutionUpdate{
		Status:       &status,
		DenyStatuses: deadEndStatuses,
	}

	applyProgress(&patch, update.Progress)

	switch status {
	case models.ExecutionStatusRunning:
		if current.StartedAt == nil {
			patch.StartedAt = &now
		}
	case models.ExecutionStatusRetrying:
		backoff := update.Backoff
		if backoff == 0 {
			backoff = DefaultBackoff(current.AttemptCount + 1)
		}

		retryAfter := now.Add(backoff)
		patch.AttemptDelta = 1
		patch.RetryAfter = &retryAfter

		if update.Error != "" {
			patch.Error = &update.Error
		}
	case models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
		patch.CompletedAt = &now

		if current.StartedAt != nil {
			executionTime := now.Sub(*current.StartedAt).Milliseconds()
			patch.ExecutionTime = &executionTime
		}

		if update.Error != "" {
			patch.Error = &update.Error
		}

		if update.Result != nil {
			patch.Result = update.Result
		}
	case models.ExecutionStatusPending, models.ExecutionStatusPaused, models.ExecutionStatusCancelled:
		// Pause, cancel, and resume route through their named operations.
	}

	execution, err := m.repository.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Updated execution status",
		"execution_id", id,
		"status", status,
		"attempt_count", execution.AttemptCount,
	)

	return execution, nil
}

// UpdateProgress applies a worker progress report without a status change.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress ProgressUpdate) (*models.WorkflowExecution, error) {
	patch := persistence.ExecutionUpdate{}
	applyProgress(&patch, &progress)

	return m.repository.Update(ctx, id, patch)
}

// PauseExecution suspends an execution. The associated queue job, if any,
// is cancelled first; the cancel is best-effort and its failure does not
// block the pause, because the execution record is the source of truth.
func (m *Manager) PauseExecution(ctx context.Context, id, byUserID string) (*models.WorkflowExecution, error) {
	current, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("cannot pause execution %s: %w", id, ErrTerminalStatus)
	}

	m.cancelQueueJob(ctx, current)

	now := time.Now().UTC()
	status := models.ExecutionStatusPaused

	execution, err := m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		Status:        &status,
		DenyStatuses:  models.TerminalStatuses(),
		PausedAt:      &now,
		PausedBy:      &byUserID,
		ClearQueueJob: true,
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Paused execution", "execution_id", id, "paused_by", byUserID)

	return execution, nil
}

// ResumeExecution moves a paused execution back to pending. The caller is
// responsible for re-enqueuing a job for it.
func (m *Manager) ResumeExecution(ctx context.Context, id, byUserID string) (*models.WorkflowExecution, error) {
	current, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ExecutionStatusPaused {
		return nil, fmt.Errorf("cannot resume execution %s: %w", id, ErrNotPaused)
	}

	now := time.Now().UTC()
	status := models.ExecutionStatusPending

	execution, err := m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		Status:    &status,
		ResumedAt: &now,
		ResumedBy: &byUserID,
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Resumed execution", "execution_id", id, "resumed_by", byUserID)

	return execution, nil
}

// CancelExecution terminates an execution at the user's request. Idempotent
// at the state layer: the queue cancel is best-effort and a failure there
// never prevents the status from being recorded.
func (m *Manager) CancelExecution(ctx context.Context, id, byUserID string) (*models.WorkflowExecution, error) {
	current, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("cannot cancel execution %s: %w", id, ErrTerminalStatus)
	}

	m.cancelQueueJob(ctx, current)

	now := time.Now().UTC()
	status := models.ExecutionStatusCancelled

	patch := persistence.ExecutionUpdate{
		Status:       &status,
		DenyStatuses: models.TerminalStatuses(),
		CompletedAt:  &now,
		Result: map[string]any{
			"cancelled":    true,
			"cancelled_by": byUserID,
			"cancelled_at": now.Format(time.RFC3339),
		},
		ClearQueueJob: true,
	}

	if current.StartedAt != nil {
		executionTime := now.Sub(*current.StartedAt).Milliseconds()
		patch.ExecutionTime = &executionTime
	}

	execution, err := m.repository.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Cancelled execution", "execution_id", id, "cancelled_by", byUserID)

	return execution, nil
}

// ResetExecutionForRetry wipes a failed execution back to pending for a
// full restart. This is the manual path, distinct from the automatic
// RETRYING bookkeeping: progress, results, and timing are all cleared.
func (m *Manager) ResetExecutionForRetry(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	current, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ExecutionStatusFailed {
		return nil, fmt.Errorf("cannot reset execution %s: %w", id, ErrNotFailed)
	}

	status := models.ExecutionStatusPending
	currentStep := 0

	execution, err := m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		Status:             &status,
		CurrentStep:        &currentStep,
		ResetStepCounters:  true,
		ClearStepResults:   true,
		ClearError:         true,
		ClearResult:        true,
		ClearExecutionTime: true,
		ClearStartedAt:     true,
		ClearCompletedAt:   true,
		ClearRetryAfter:    true,
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Reset execution for retry", "execution_id", id)

	return execution, nil
}

// SetQueueJob associates the execution with an in-flight queue job.
func (m *Manager) SetQueueJob(ctx context.Context, id, jobID, queueName string) (*models.WorkflowExecution, error) {
	return m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		QueueJobID: &jobID,
		QueueName:  &queueName,
	})
}

// PrepareRetryDispatch moves a due retrying execution back to pending and
// binds the queue job it is about to receive. The record transitions before
// the job is enqueued, so a worker that dequeues the job immediately always
// finds a pending execution.
func (m *Manager) PrepareRetryDispatch(ctx context.Context, id, jobID, queueName string) (*models.WorkflowExecution, error) {
	status := models.ExecutionStatusPending

	return m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		Status:          &status,
		DenyStatuses:    deadEndStatuses,
		QueueJobID:      &jobID,
		QueueName:       &queueName,
		ClearRetryAfter: true,
	})
}

// AbortRetryDispatch returns an execution to the retrying state after its
// queue job could not be enqueued. The retry schedule is reset to now, so
// the next sweep picks the execution up again.
func (m *Manager) AbortRetryDispatch(ctx context.Context, id string) error {
	status := models.ExecutionStatusRetrying
	now := time.Now().UTC()

	_, err := m.repository.Update(ctx, id, persistence.ExecutionUpdate{
		Status:        &status,
		RetryAfter:    &now,
		ClearQueueJob: true,
	})

	return err
}

// ShouldRetry reports whether a failed execution is eligible for automatic
// retry: attempts remain, the last error is not permanent, and any
// scheduled retryAfter has elapsed.
func (m *Manager) ShouldRetry(ctx context.Context, id string) (bool, error) {
	execution, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return false, err
	}

	return retryEligible(execution, time.Now().UTC()), nil
}

// GetRetryableExecutions returns every failed execution eligible for
// automatic retry. Permanent-error records are filtered out even when their
// retryAfter has elapsed.
func (m *Manager) GetRetryableExecutions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	failed, err := m.repository.FindMany(ctx, persistence.ExecutionFilter{
		Statuses: []models.ExecutionStatus{models.ExecutionStatusFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed executions: %w", err)
	}

	now := time.Now().UTC()
	eligible := make([]*models.WorkflowExecution, 0, len(failed))

	for _, execution := range failed {
		if retryEligible(execution, now) {
			eligible = append(eligible, execution)
		}
	}

	return eligible, nil
}

// RetryEligible reports whether an execution whose last failure classified
// as code has an automatic retry left. It is the single eligibility rule;
// the worker applies it at failure time and the sweeps apply it to stored
// records.
func RetryEligible(execution *models.WorkflowExecution, code string, now time.Time) bool {
	if execution.AttemptCount >= execution.MaxAttempts {
		return false
	}

	if IsPermanentError(code) {
		return false
	}

	if execution.RetryAfter != nil && execution.RetryAfter.After(now) {
		return false
	}

	return true
}

func retryEligible(execution *models.WorkflowExecution, now time.Time) bool {
	return RetryEligible(execution, execution.Error, now)
}

// GetDueRetries returns executions in the retrying state whose scheduled
// retryAfter has elapsed, ready to be re-enqueued.
func (m *Manager) GetDueRetries(ctx context.Context) ([]*models.WorkflowExecution, error) {
	now := time.Now().UTC()

	return m.repository.FindMany(ctx, persistence.ExecutionFilter{
		Statuses: []models.ExecutionStatus{models.ExecutionStatusRetrying},
		RetryDue: &now,
	})
}

// GetStuckExecutions returns running executions whose startedAt is older
// than the threshold: a liveness check for jobs whose worker died without
// reporting. Handling them is the supervisor's job.
func (m *Manager) GetStuckExecutions(ctx context.Context, threshold time.Duration) ([]*models.WorkflowExecution, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	return m.repository.FindMany(ctx, persistence.ExecutionFilter{
		Statuses:      []models.ExecutionStatus{models.ExecutionStatusRunning},
		StartedBefore: &cutoff,
	})
}

// GetExecutionProgress derives the progress view of an execution.
func (m *Manager) GetExecutionProgress(ctx context.Context, id string) (*models.ExecutionProgress, error) {
	execution, err := m.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	progress := &models.ExecutionProgress{
		CurrentStep:    execution.CurrentStep,
		TotalSteps:     execution.TotalSteps,
		CompletedSteps: execution.CompletedSteps,
		FailedSteps:    execution.FailedSteps,
	}

	if execution.TotalSteps > 0 {
		progress.Progress = int(math.Round(float64(execution.CompletedSteps) / float64(execution.TotalSteps) * 100))
	}

	if execution.StartedAt != nil && execution.CompletedSteps > 0 {
		elapsed := time.Since(*execution.StartedAt).Milliseconds()
		remaining := execution.TotalSteps - execution.CompletedSteps - execution.FailedSteps

		if remaining > 0 {
			progress.EstimatedTimeRemaining = elapsed / int64(execution.CompletedSteps) * int64(remaining)
		}
	}

	return progress, nil
}

// GetExecutionMetrics aggregates execution outcomes across the store.
func (m *Manager) GetExecutionMetrics(ctx context.Context) (*models.ExecutionMetrics, error) {
	total, err := m.repository.Count(ctx, persistence.ExecutionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	failed, err := m.repository.Count(ctx, persistence.ExecutionFilter{
		Statuses: []models.ExecutionStatus{models.ExecutionStatusFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count failed executions: %w", err)
	}

	completed, err := m.repository.FindMany(ctx, persistence.ExecutionFilter{
		Statuses: []models.ExecutionStatus{models.ExecutionStatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list completed executions: %w", err)
	}

	recent, err := m.repository.FindMany(ctx, persistence.ExecutionFilter{
		OrderByRecent: true,
		Limit:         recentSampleLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}

	metrics := &models.ExecutionMetrics{
		TotalExecutions:      total,
		SuccessfulExecutions: len(completed),
		FailedExecutions:     failed,
		RecentExecutions:     recent,
	}

	if total > 0 {
		metrics.SuccessRate = float64(len(completed)) / float64(total) * 100
	}

	var (
		timed int
		sum   int64
	)

	for _, execution := range completed {
		if execution.ExecutionTime != nil {
			timed++
			sum += *execution.ExecutionTime
		}
	}

	if timed > 0 {
		metrics.AverageExecutionTime = float64(sum) / float64(timed)
	}

	return metrics, nil
}

// CleanupOldExecutions deletes terminal executions older than the retention
// window and returns the count deleted. Non-terminal records are never
// touched regardless of age.
func (m *Manager) CleanupOldExecutions(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deleted, err := m.repository.DeleteMany(ctx, persistence.ExecutionFilter{
		Statuses:      models.TerminalStatuses(),
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old executions: %w", err)
	}

	if deleted > 0 {
		m.logger.InfoContext(ctx, "Cleaned up old executions", "deleted", deleted, "retention_days", retentionDays)
	}

	return deleted, nil
}

// cancelQueueJob best-effort cancels the job associated with an execution.
func (m *Manager) cancelQueueJob(ctx context.Context, execution *models.WorkflowExecution) {
	if execution.QueueJobID == "" || m.queues == nil {
		return
	}

	cancelCtx, cancel := context.WithTimeout(ctx, defaultQueueTimeout)
	defer cancel()

	if err := m.queues.CancelJob(cancelCtx, execution.QueueName, execution.QueueJobID); err != nil {
		m.logger.WarnContext(ctx, "Failed to cancel queue job",
			"execution_id", execution.ID,
			"queue_job_id", execution.QueueJobID,
			"error", err,
		)
	}
}

func applyProgress(patch *persistence.ExecutionUpdate, progress *ProgressUpdate) {
	if progress == nil {
		return
	}

	patch.CurrentStep = progress.CurrentStep
	patch.CompletedStepsDelta = progress.CompletedStepsDelta
	patch.FailedStepsDelta = progress.FailedStepsDelta
	patch.StepResults = progress.StepResults
}
