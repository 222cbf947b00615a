// Package transform provides the data transformation executor: map, filter,
// and aggregate over input collections.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

// Executor applies one of the named operations over an input collection.
// An unsupported operation is a reported failure, never a panic or error.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Validate requires an operation name and an input source, plus an output
// template for map operations.
func (e *Executor) Validate(step models.Step) bool {
	if step.Parameters == nil {
		return false
	}

	operation, _ := step.Parameters["operation"].(string)
	if operation == "" {
		return false
	}

	if _, hasInput := step.Parameters["input"]; !hasInput {
		return false
	}

	if operation == "map" {
		_, hasOutput := step.Parameters["output"].(map[string]any)

		return hasOutput
	}

	return true
}

func (e *Executor) Execute(ctx context.Context, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) models.StepResult {
	operation, _ := step.Parameters["operation"].(string)

	logger = logger.With("executor", "transform", "operation", operation)
	logger.InfoContext(ctx, "Executing transform step")

	items, err := e.extractInput(step, executionCtx)
	if err != nil {
		return models.StepResult{Success: false, Error: err.Error()}
	}

	switch operation {
	case "map":
		return e.applyMap(step, items)
	case "filter":
		return e.applyFilter(step, items)
	case "aggregate":
		return e.applyAggregate(step, items)
	default:
		return models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("unsupported transform operation: %s", operation),
		}
	}
}

// extractInput resolves the input parameter to a collection. A string input
// is a field reference into the execution context; anything else must
// already be a collection.
func (e *Executor) extractInput(step models.Step, executionCtx models.ExecutionContext) ([]any, error) {
	input := step.Parameters["input"]

	if ref, ok := input.(string); ok {
		resolved, found := template.Lookup(ref, template.ContextData(executionCtx))
		if !found {
			return nil, fmt.Errorf("input reference %q not found in execution context", ref)
		}

		input = resolved
	}

	items, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("transform input must be a collection, got %T", input)
	}

	return items, nil
}

// applyMap projects every item through the output template. Each template
// field may be a placeholder resolved against the source item; unmatched
// placeholders degrade to their literal form.
func (e *Executor) applyMap(step models.Step, items []any) models.StepResult {
	output, ok := step.Parameters["output"].(map[string]any)
	if !ok {
		return models.StepResult{Success: false, Error: "map operation requires an output template"}
	}

	mapped := make([]any, 0, len(items))

	for _, item := range items {
		source, ok := item.(map[string]any)
		if !ok {
			source = map[string]any{"value": item}
		}

		mapped = append(mapped, template.ResolveMap(output, source))
	}

	return models.StepResult{Success: true, Data: mapped}
}

// applyFilter retains items matching a single field/operator/value condition.
func (e *Executor) applyFilter(step models.Step, items []any) models.StepResult {
	condition, ok := models.ConditionFromConfig(step.Parameters)
	if !ok {
		return models.StepResult{Success: false, Error: "filter operation requires a condition"}
	}

	if condition.Field == "" || condition.Operator == "" {
		return models.StepResult{Success: false, Error: "filter condition requires field and operator"}
	}

	filtered := make([]any, 0, len(items))

	for _, item := range items {
		source, ok := item.(map[string]any)
		if !ok {
			continue
		}

		matched, err := models.EvaluateOperator(source[condition.Field], condition.Operator, condition.Value)
		if err != nil {
			return models.StepResult{Success: false, Error: err.Error()}
		}

		if matched {
			filtered = append(filtered, item)
		}
	}

	return models.StepResult{Success: true, Data: filtered}
}

// applyAggregate reduces a numeric field across all items. The reducer
// defaults to sum; avg, min, max, and count are also supported.
func (e *Executor) applyAggregate(step models.Step, items []any) models.StepResult {
	field, _ := step.Parameters["field"].(string)
	if field == "" {
		return models.StepResult{Success: false, Error: "aggregate operation requires a field"}
	}

	function, _ := step.Parameters["function"].(string)
	if function == "" {
		function = "sum"
	}

	values := make([]float64, 0, len(items))

	for _, item := range items {
		source, ok := item.(map[string]any)
		if !ok {
			continue
		}

		if number, ok := toFloat(source[field]); ok {
			values = append(values, number)
		}
	}

	result, err := reduce(function, values)
	if err != nil {
		return models.StepResult{Success: false, Error: err.Error()}
	}

	return models.StepResult{Success: true, Data: result}
}

func reduce(function string, values []float64) (float64, error) {
	switch function {
	case "sum":
		var total float64
		for _, v := range values {
			total += v
		}

		return total, nil
	case "avg":
		if len(values) == 0 {
			return 0, nil
		}

		var total float64
		for _, v := range values {
			total += v
		}

		return total / float64(len(values)), nil
	case "min":
		if len(values) == 0 {
			return 0, nil
		}

		minimum := values[0]
		for _, v := range values[1:] {
			if v < minimum {
				minimum = v
			}
		}

		return minimum, nil
	case "max":
		if len(values) == 0 {
			return 0, nil
		}

		maximum := values[0]
		for _, v := range values[1:] {
			if v > maximum {
				maximum = v
			}
		}

		return maximum, nil
	case "count":
		return float64(len(values)), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate function: %s", function)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
