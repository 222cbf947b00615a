package custom

import "github.com/dukex/stepflow/pkg/protocol"

// Factory creates custom step executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "custom"
}

func (f *Factory) Name() string {
	return "Custom"
}

func (f *Factory) Description() string {
	return "Runs a named ad hoc action: noop, wait, log. Unknown actions succeed with a generic payload."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "Action name to run.",
				"examples":    []string{"noop", "wait", "log"},
			},
			"wait_time": map[string]any{
				"type":        "number",
				"description": "Milliseconds to suspend when action is 'wait'.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message to echo when action is 'log'.",
			},
		},
		"required": []string{"action"},
	}
}

func (f *Factory) Create() (protocol.StepExecutor, error) {
	return NewExecutor(), nil
}
