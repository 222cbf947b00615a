// Package runner dispatches steps to the executor that handles them and
// records one execution-log entry per attempt.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Runner resolves which executor applies to a step, runs validate then
// execute, and emits a log entry for the attempt. Executor failures never
// escape as errors; they come back inside the StepResult.
type Runner struct {
	executors map[models.StepType]protocol.StepExecutor
	logSink   protocol.LogSink
	logger    *slog.Logger
}

func NewRunner(logSink protocol.LogSink, logger *slog.Logger) *Runner {
	return &Runner{
		executors: make(map[models.StepType]protocol.StepExecutor),
		logSink:   logSink,
		logger:    logger.With("module", "step_runner"),
	}
}

// Register installs an executor built by the factory under its type id.
func (r *Runner) Register(factory protocol.StepExecutorFactory) error {
	executor, err := factory.Create()
	if err != nil {
		return fmt.Errorf("failed to create executor %s: %w", factory.ID(), err)
	}

	r.executors[models.StepType(factory.ID())] = executor

	return nil
}

// ExecuteStep runs one step and always returns a StepResult. Duration is
// measured around the execute call only; validation failures carry no
// duration. The log entry is emitted without awaiting the sink.
func (r *Runner) ExecuteStep(ctx context.Context, step models.Step, executionCtx models.ExecutionContext) models.StepResult {
	stepType := DetectStepType(step)

	logger := r.logger.With(
		"execution_id", executionCtx.ExecutionID,
		"step_id", step.ID,
		"step_type", stepType,
	)

	executor, ok := r.executors[stepType]
	if !ok {
		result := models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("no executor registered for step type %s", stepType),
		}
		r.emitLogEntry(step, executionCtx, result)

		return result
	}

	if !executor.Validate(step) {
		logger.WarnContext(ctx, "Step failed validation")

		result := models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("Invalid step configuration for %s", strings.ToUpper(string(stepType))),
		}
		r.emitLogEntry(step, executionCtx, result)

		return result
	}

	started := time.Now()
	result := r.execute(ctx, executor, step, executionCtx, logger)
	result.Duration = time.Since(started).Milliseconds()

	if result.Success {
		logger.InfoContext(ctx, "Step completed", "duration_ms", result.Duration)
	} else {
		logger.WarnContext(ctx, "Step failed", "error", result.Error, "duration_ms", result.Duration)
	}

	r.emitLogEntry(step, executionCtx, result)

	return result
}

// execute invokes the executor, converting a panic into a failed result so
// no failure crosses the runner's boundary.
func (r *Runner) execute(ctx context.Context, executor protocol.StepExecutor, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) (result models.StepResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "Executor panicked", "panic", recovered)

			result = models.StepResult{
				Success: false,
				Error:   fmt.Sprintf("step execution panicked: %v", recovered),
			}
		}
	}()

	return executor.Execute(ctx, step, executionCtx, logger)
}

// emitLogEntry writes the attempt record in a detached goroutine. A sink
// failure is logged and swallowed; it must not fail the step.
func (r *Runner) emitLogEntry(step models.Step, executionCtx models.ExecutionContext, result models.StepResult) {
	if r.logSink == nil {
		return
	}

	entry := &models.ExecutionLogEntry{
		ID:            "log-" + uuid.New().String()[:8],
		ExecutionID:   executionCtx.ExecutionID,
		StepID:        step.ID,
		AttemptNumber: executionCtx.Attempt,
		Success:       result.Success,
		Error:         result.Error,
		Data:          result.Data,
		Duration:      result.Duration,
		CreatedAt:     time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.logSink.CreateLogEntry(ctx, entry); err != nil {
			r.logger.Error("Failed to write execution log entry", "error", err, "execution_id", entry.ExecutionID)
		}
	}()
}

// DetectStepType picks the executor for a step. An explicit type wins;
// untyped steps fall back to shape: an action selects custom, a transform
// operation selects transform, a condition selects condition, and anything
// else is assumed to be an API call.
func DetectStepType(step models.Step) models.StepType {
	if step.Type != "" {
		return step.Type
	}

	if step.Action != "" {
		return models.StepTypeCustom
	}

	if step.Parameters != nil {
		if _, ok := step.Parameters["operation"]; ok {
			return models.StepTypeTransform
		}

		if _, ok := step.Parameters["condition"]; ok {
			return models.StepTypeCondition
		}
	}

	return models.StepTypeAPICall
}
