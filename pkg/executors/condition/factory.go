package condition

import "github.com/dukex/stepflow/pkg/protocol"

// Factory creates condition step executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "condition"
}

func (f *Factory) Name() string {
	return "Condition"
}

func (f *Factory) Description() string {
	return "Evaluates a condition against the execution context and reports the branch to take."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "object",
				"description": "Predicate to evaluate: field (dotted path into the context), operator, value.",
				"examples": []map[string]any{
					{"field": "param.status", "operator": "equals", "value": "active"},
				},
			},
			"true_step": map[string]any{
				"type":        "string",
				"description": "Step to take when the condition holds.",
			},
			"false_step": map[string]any{
				"type":        "string",
				"description": "Step to take when the condition does not hold.",
			},
		},
		"required": []string{"condition"},
	}
}

func (f *Factory) Create() (protocol.StepExecutor, error) {
	return NewExecutor(), nil
}
