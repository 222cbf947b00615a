// Package protocol defines the contracts between the step runner, the
// executors, and their collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// StepExecutor is one strategy for validating and running a category of step.
//
// Validate is a cheap structural check performed before execution; it returns
// false instead of an error so callers can surface a configuration failure
// without invoking Execute. Execute never lets a failure escape as an error:
// every internal failure is reported through StepResult.Error.
type StepExecutor interface {
	Validate(step models.Step) bool
	Execute(ctx context.Context, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) models.StepResult
}

// StepExecutorFactory creates executors and exposes their metadata for
// registration and discovery.
type StepExecutorFactory interface {
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
	Create() (StepExecutor, error)
}
