// Package apicall provides the outbound HTTP executor. Authentication
// configuration is resolved through a connection collaborator; the executor
// only assembles and sends the request.
package apicall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
)

const defaultTimeout = 30 * time.Second

// Executor performs an HTTP request described by the step parameters against
// the endpoint resolved from its connection.
type Executor struct {
	resolver protocol.ConnectionResolver
	client   *http.Client
}

func NewExecutor(resolver protocol.ConnectionResolver) *Executor {
	return &Executor{
		resolver: resolver,
		client:   &http.Client{},
	}
}

// Validate rejects a step that lacks enough information to construct a
// request: a connection id and a target method and path.
func (e *Executor) Validate(step models.Step) bool {
	if step.Parameters == nil {
		return false
	}

	connectionID, _ := step.Parameters["connection_id"].(string)
	method, _ := step.Parameters["method"].(string)
	path, _ := step.Parameters["path"].(string)

	return connectionID != "" && method != "" && path != ""
}

func (e *Executor) Execute(ctx context.Context, step models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) models.StepResult {
	connectionID, _ := step.Parameters["connection_id"].(string)
	method, _ := step.Parameters["method"].(string)
	path, _ := step.Parameters["path"].(string)

	logger = logger.With("executor", "api_call", "connection_id", connectionID, "method", method, "path", path)
	logger.InfoContext(ctx, "Executing API call step")

	connection, err := e.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return models.StepResult{
			Success: false,
			Error:   fmt.Sprintf("failed to resolve connection %s: %v", connectionID, err),
		}
	}

	attempts, delay := retryConfig(step.Parameters)

	var (
		result  models.StepResult
		lastErr string
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying API call", "attempt", attempt, "max", attempts)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return models.StepResult{Success: false, Error: ctx.Err().Error(), RetryCount: attempt - 1}
			case <-timer.C:
			}
		}

		result = e.send(ctx, connection, method, path, step, executionCtx)
		result.RetryCount = attempt - 1

		if result.Success {
			return result
		}

		lastErr = result.Error

		if !result.Success && !retryable(result) {
			return result
		}
	}

	result.Error = lastErr

	return result
}

// send performs one request attempt.
func (e *Executor) send(ctx context.Context, connection *protocol.Connection, method, path string, step models.Step, executionCtx models.ExecutionContext) models.StepResult {
	url := strings.TrimRight(connection.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	var bodyReader io.Reader

	if body, ok := step.Parameters["body"]; ok {
		resolved := body
		if tmpl, ok := body.(map[string]any); ok {
			resolved = template.ResolveMap(tmpl, template.ContextData(executionCtx))
		}

		encoded, err := json.Marshal(resolved)
		if err != nil {
			return models.StepResult{Success: false, Error: fmt.Sprintf("failed to encode request body: %v", err)}
		}

		bodyReader = strings.NewReader(string(encoded))
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout(step.Parameters))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return models.StepResult{Success: false, Error: fmt.Sprintf("failed to create http request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range connection.Headers {
		req.Header.Set(key, value)
	}

	if headers, ok := step.Parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				req.Header.Set(key, str)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return models.StepResult{Success: false, Error: fmt.Sprintf("http request failed: %v", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.StepResult{Success: false, Error: fmt.Sprintf("failed to read response body: %v", err)}
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		decoded = string(payload)
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
	}

	if resp.StatusCode >= 400 {
		return models.StepResult{
			Success: false,
			Data:    data,
			Error:   fmt.Sprintf("request failed with status %d", resp.StatusCode),
		}
	}

	return models.StepResult{Success: true, Data: data}
}

// retryable reports whether a failed attempt is worth repeating within this
// invocation. Client errors are not: the request will not get better.
func retryable(result models.StepResult) bool {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return true // transport errors retry
	}

	status, ok := data["status_code"].(int)
	if !ok {
		return true
	}

	return status >= 500
}

func retryConfig(parameters map[string]any) (int, time.Duration) {
	attempts := 1
	delay := time.Second

	retry, ok := parameters["retry"].(map[string]any)
	if !ok {
		return attempts, delay
	}

	if v, ok := retry["attempts"].(float64); ok && v >= 1 {
		attempts = int(v)
	} else if v, ok := retry["attempts"].(int); ok && v >= 1 {
		attempts = v
	}

	if v, ok := retry["delay"].(float64); ok && v > 0 {
		delay = time.Duration(v) * time.Millisecond
	}

	return attempts, delay
}

func requestTimeout(parameters map[string]any) time.Duration {
	if v, ok := parameters["timeout"].(float64); ok && v > 0 {
		return time.Duration(v) * time.Millisecond
	}

	return defaultTimeout
}
