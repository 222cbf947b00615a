package apicall

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/stepflow/pkg/protocol"
)

// EnvConnectionResolver resolves connections from environment variables:
// STEPFLOW_CONNECTION_<ID>_URL for the base URL and an optional
// STEPFLOW_CONNECTION_<ID>_HEADERS holding a JSON object of headers. Real
// deployments plug in the connection-management service instead.
type EnvConnectionResolver struct{}

func NewEnvConnectionResolver() *EnvConnectionResolver {
	return &EnvConnectionResolver{}
}

func (r *EnvConnectionResolver) Resolve(_ context.Context, connectionID string) (*protocol.Connection, error) {
	key := strings.ToUpper(strings.ReplaceAll(connectionID, "-", "_"))

	baseURL := os.Getenv("STEPFLOW_CONNECTION_" + key + "_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("connection %s not configured", connectionID)
	}

	connection := &protocol.Connection{ID: connectionID, BaseURL: baseURL}

	if raw := os.Getenv("STEPFLOW_CONNECTION_" + key + "_HEADERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &connection.Headers); err != nil {
			return nil, fmt.Errorf("invalid headers for connection %s: %w", connectionID, err)
		}
	}

	return connection, nil
}
