package protocol

import "context"

// Connection holds the resolved endpoint configuration for an outbound API
// call. Credential handling lives behind the resolver; executors only see
// the final base URL and headers.
type Connection struct {
	ID      string            `json:"id"`
	BaseURL string            `json:"base_url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ConnectionResolver looks up connection configuration for the API call
// executor. Implemented by the connection-management layer.
type ConnectionResolver interface {
	Resolve(ctx context.Context, connectionID string) (*Connection, error)
}
