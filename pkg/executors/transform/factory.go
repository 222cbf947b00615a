package transform

import "github.com/dukex/stepflow/pkg/protocol"

// Factory creates transform step executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "transform"
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Applies map, filter, or aggregate over an input collection."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"map", "filter", "aggregate"},
				"description": "Transformation to apply.",
			},
			"input": map[string]any{
				"description": "Input collection, or a field reference into the execution context.",
				"examples": []string{
					"steps.fetch_users.data",
					"param.items",
				},
			},
			"output": map[string]any{
				"type":        "object",
				"description": "Output template for map. Field values may be {{placeholder}} references into each item.",
			},
			"condition": map[string]any{
				"type":        "object",
				"description": "Filter condition: field, operator, value.",
			},
			"field": map[string]any{
				"type":        "string",
				"description": "Numeric field to aggregate.",
			},
			"function": map[string]any{
				"type":        "string",
				"enum":        []string{"sum", "avg", "min", "max", "count"},
				"description": "Aggregate reducer, defaults to sum.",
			},
		},
		"required": []string{"operation", "input"},
	}
}

func (f *Factory) Create() (protocol.StepExecutor, error) {
	return NewExecutor(), nil
}
