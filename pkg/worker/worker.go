// Package worker pulls jobs from the queue and drives executions through
// the step runner and the state manager.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/execution"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/queue"
	"github.com/dukex/stepflow/pkg/runner"
)

const dequeueTimeout = 1 * time.Second

// Worker consumes one queue and executes the steps of each job it pulls in
// sequence, reporting progress back to the state manager after every step.
// Pause and cancel are honored between steps by re-reading the execution
// status.
type Worker struct {
	id        string
	queueName string
	manager   *execution.Manager
	runner    *runner.Runner
	consumer  queue.Consumer
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewWorker(id, queueName string, manager *execution.Manager, stepRunner *runner.Runner, consumer queue.Consumer, logger *slog.Logger) *Worker {
	return &Worker{
		id:        id,
		queueName: queueName,
		manager:   manager,
		runner:    stepRunner,
		consumer:  consumer,
		logger:    logger.With("module", "worker", "worker_id", id, "queue", queueName),
		stopCh:    make(chan struct{}),
	}
}

// Start begins consuming jobs until Stop is called or the context ends.
func (w *Worker) Start(ctx context.Context) {
	w.logger.InfoContext(ctx, "Starting worker")

	w.wg.Add(1)

	go w.consume(ctx)
}

// Stop halts consumption and waits for the in-flight job to finish.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.InfoContext(ctx, "Stopping worker")
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			job, err := w.consumer.Dequeue(ctx, w.queueName, dequeueTimeout)
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to dequeue job", "error", err)
				time.Sleep(time.Second)

				continue
			}

			if job == nil {
				continue
			}

			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With("job_id", job.ID, "execution_id", job.ExecutionID)

	exec, err := w.manager.GetExecution(ctx, job.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "Job references unknown execution, dropping")

			return
		}

		logger.ErrorContext(ctx, "Failed to load execution", "error", err)

		return
	}

	if exec.Status != models.ExecutionStatusPending {
		logger.InfoContext(ctx, "Execution no longer pending, skipping job", "status", exec.Status)

		return
	}

	steps, err := decodeSteps(job.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "Job payload has no usable steps", "error", err)
		w.failExecution(ctx, exec, "INVALID_CONFIGURATION")

		return
	}

	if err := w.markJobStatus(ctx, job.ID, queue.JobStatusActive); err != nil {
		logger.WarnContext(ctx, "Failed to mark job active", "error", err)
	}

	exec, err = w.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusRunning, execution.StatusUpdate{})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution running", "error", err)

		return
	}

	w.runSteps(ctx, exec, job, steps, logger)
}

// runSteps executes the job's steps in order, following condition branch
// hints and stopping on the first failure.
func (w *Worker) runSteps(ctx context.Context, exec *models.WorkflowExecution, job *queue.Job, steps []models.Step, logger *slog.Logger) {
	parameters, _ := job.Payload["parameters"].(map[string]any)
	stepResults := make(map[string]any, len(steps))
	counted := make(map[string]bool, len(steps))

	index := 0
	visits := 0
	maxVisits := len(steps) * 10 // guards against condition branch cycles

	for index >= 0 && index < len(steps) {
		visits++
		if visits > maxVisits {
			logger.WarnContext(ctx, "Step branch cycle detected, failing execution")
			w.handleFailure(ctx, exec, job, "INVALID_CONFIGURATION")

			return
		}

		current, err := w.manager.GetExecution(ctx, exec.ID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to re-read execution", "error", err)

			return
		}

		if current.Status != models.ExecutionStatusRunning {
			logger.InfoContext(ctx, "Execution interrupted, stopping", "status", current.Status)

			return
		}

		step := steps[index]

		executionCtx := models.ExecutionContext{
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			UserID:      exec.UserID,
			Attempt:     current.AttemptCount + 1,
			Parameters:  parameters,
			StepResults: stepResults,
		}

		result := w.runner.ExecuteStep(ctx, step, executionCtx)
		stepResults[step.ID] = result.Data

		progress := execution.ProgressUpdate{
			CurrentStep: intPtr(index + 1),
			StepResults: map[string]models.StepResult{step.ID: result},
		}

		// A step revisited through a condition branch counts only once, so
		// the step counters never exceed the step total.
		if !counted[step.ID] {
			counted[step.ID] = true

			if result.Success {
				progress.CompletedStepsDelta = 1
			} else {
				progress.FailedStepsDelta = 1
			}
		}

		if _, err := w.manager.UpdateProgress(ctx, exec.ID, progress); err != nil {
			logger.ErrorContext(ctx, "Failed to report progress", "error", err)
		}

		if !result.Success {
			code := execution.ClassifyError(result.Error)
			logger.WarnContext(ctx, "Step failed", "step_id", step.ID, "error", result.Error, "code", code)
			w.handleFailure(ctx, exec, job, code)

			return
		}

		index = nextIndex(steps, index, result)
	}

	if _, err := w.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusCompleted, execution.StatusUpdate{}); err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution completed", "error", err)

		return
	}

	if err := w.markJobStatus(ctx, job.ID, queue.JobStatusCompleted); err != nil {
		logger.WarnContext(ctx, "Failed to mark job completed", "error", err)
	}

	logger.InfoContext(ctx, "Execution completed")
}

// handleFailure routes a failed execution to automatic retry when attempts
// remain and the error is transient, otherwise to the terminal failed state.
func (w *Worker) handleFailure(ctx context.Context, exec *models.WorkflowExecution, job *queue.Job, code string) {
	if err := w.markJobStatus(ctx, job.ID, queue.JobStatusFailed); err != nil {
		w.logger.WarnContext(ctx, "Failed to mark job failed", "error", err)
	}

	current, err := w.manager.GetExecution(ctx, exec.ID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to re-read execution", "error", err)

		return
	}

	if execution.RetryEligible(current, code, time.Now().UTC()) {
		_, err = w.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusRetrying, execution.StatusUpdate{
			Error:   code,
			Backoff: execution.DefaultBackoff(current.AttemptCount + 1),
		})
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to schedule retry", "error", err)
		}

		return
	}

	w.failExecution(ctx, exec, code)
}

func (w *Worker) failExecution(ctx context.Context, exec *models.WorkflowExecution, code string) {
	_, err := w.manager.UpdateStatus(ctx, exec.ID, models.ExecutionStatusFailed, execution.StatusUpdate{Error: code})
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark execution failed", "error", err)
	}
}

func (w *Worker) markJobStatus(ctx context.Context, jobID string, status queue.JobStatus) error {
	if w.consumer == nil {
		return nil
	}

	return w.consumer.MarkJobStatus(ctx, jobID, status)
}

// nextIndex follows a condition step's branch hint when one is present,
// otherwise advances to the next step. An unknown branch target ends the
// run.
func nextIndex(steps []models.Step, index int, result models.StepResult) int {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return index + 1
	}

	nextStep, ok := data["next_step"].(string)
	if !ok || nextStep == "" {
		return index + 1
	}

	for i, step := range steps {
		if step.ID == nextStep {
			return i
		}
	}

	return -1
}

// decodeSteps extracts the step list from a job payload by round-tripping
// through JSON, since queued payloads arrive as generic maps.
func decodeSteps(payload map[string]any) ([]models.Step, error) {
	raw, ok := payload["steps"]
	if !ok {
		return nil, fmt.Errorf("payload has no steps")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}

	var steps []models.Step
	if err := json.Unmarshal(encoded, &steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("payload has no steps")
	}

	return steps, nil
}

func intPtr(value int) *int {
	return &value
}
