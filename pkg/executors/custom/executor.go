// Package custom provides the fallback executor for ad hoc steps addressed
// by action name.
package custom

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// Executor interprets a step's action by name. It is intentionally
// permissive: an unrecognized action still succeeds with a generic payload,
// so ad hoc steps never fail on naming alone.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Validate requires an action name to dispatch on.
func (e *Executor) Validate(step models.Step) bool {
	return step.Action != ""
}

func (e *Executor) Execute(ctx context.Context, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) models.StepResult {
	logger = logger.With("executor", "custom", "action", step.Action)
	logger.InfoContext(ctx, "Executing custom step")

	switch step.Action {
	case "noop":
		return models.StepResult{
			Success: true,
			Data:    map[string]any{"action": "noop", "message": "No operation performed"},
		}
	case "wait":
		return e.wait(ctx, step)
	case "log":
		message, _ := step.Parameters["message"].(string)
		logger.InfoContext(ctx, "Log step", "message", message)

		return models.StepResult{
			Success: true,
			Data:    map[string]any{"action": "log", "message": message},
		}
	default:
		logger.InfoContext(ctx, "Unknown custom action, treating as no-op")

		return models.StepResult{
			Success: true,
			Data:    map[string]any{"action": step.Action, "message": "Action executed"},
		}
	}
}

// wait suspends for the configured number of milliseconds, honoring context
// cancellation.
func (e *Executor) wait(ctx context.Context, step models.Step) models.StepResult {
	waitTime := durationMS(step.Parameters["wait_time"])

	timer := time.NewTimer(time.Duration(waitTime) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return models.StepResult{Success: false, Error: ctx.Err().Error()}
	case <-timer.C:
	}

	return models.StepResult{
		Success: true,
		Data:    map[string]any{"action": "wait", "waited_ms": waitTime},
	}
}

// durationMS coerces a configured wait time to milliseconds. JSON decoding
// yields float64 for numbers, but configs assembled in code may carry ints.
func durationMS(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
