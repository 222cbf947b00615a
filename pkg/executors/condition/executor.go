// Package condition provides the branching executor. It evaluates a single
// condition against the execution context and reports which branch the
// caller should take; it never moves control flow itself.
package condition

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Validate requires a condition with a field and an operator.
func (e *Executor) Validate(step models.Step) bool {
	if step.Parameters == nil {
		return false
	}

	condition, ok := models.ConditionFromConfig(step.Parameters)
	if !ok {
		return false
	}

	return condition.Field != "" && condition.Operator != ""
}

func (e *Executor) Execute(ctx context.Context, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) models.StepResult {
	condition, _ := models.ConditionFromConfig(step.Parameters)

	logger = logger.With("executor", "condition", "field", condition.Field, "operator", condition.Operator)
	logger.InfoContext(ctx, "Evaluating condition step")

	actual, _ := template.Lookup(condition.Field, template.ContextData(executionCtx))

	matched, err := models.EvaluateOperator(actual, condition.Operator, condition.Value)
	if err != nil {
		return models.StepResult{Success: false, Error: err.Error()}
	}

	nextStep, _ := step.Parameters["true_step"].(string)
	if !matched {
		nextStep, _ = step.Parameters["false_step"].(string)
	}

	logger.InfoContext(ctx, "Condition evaluated", "result", matched, "next_step", nextStep)

	return models.StepResult{
		Success: true,
		Data: map[string]any{
			"condition": matched,
			"next_step": nextStep,
		},
	}
}
