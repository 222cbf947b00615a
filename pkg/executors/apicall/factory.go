package apicall

import "github.com/dukex/stepflow/pkg/protocol"

// Factory creates API call executors bound to a connection resolver.
type Factory struct {
	resolver protocol.ConnectionResolver
}

func NewFactory(resolver protocol.ConnectionResolver) *Factory {
	return &Factory{resolver: resolver}
}

func (f *Factory) ID() string {
	return "api_call"
}

func (f *Factory) Name() string {
	return "API Call"
}

func (f *Factory) Description() string {
	return "Sends an outbound HTTP request using a configured connection."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"connection_id": map[string]any{
				"type":        "string",
				"description": "Connection holding the base URL and authentication headers.",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method.",
				"examples":    []string{"GET", "POST"},
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Request path, appended to the connection base URL.",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Extra request headers.",
			},
			"body": map[string]any{
				"description": "Request body, JSON-encoded. Template maps are resolved against the execution context.",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Per-request timeout in milliseconds.",
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "In-step retry: attempts and delay (milliseconds).",
			},
		},
		"required": []string{"connection_id", "method", "path"},
	}
}

func (f *Factory) Create() (protocol.StepExecutor, error) {
	return NewExecutor(f.resolver), nil
}
