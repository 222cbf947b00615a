package execution

import (
	"strings"
	"time"
)

// Error classification for retry eligibility. Permanent codes are a
// denylist: they indicate a failure that needs human or configuration
// intervention and are never auto-retried regardless of remaining attempts.
// Codes outside the denylist are treated as transient.
var permanentErrorCodes = map[string]struct{}{
	"INVALID_API_KEY":       {},
	"INVALID_CREDENTIALS":   {},
	"UNAUTHORIZED":          {},
	"FORBIDDEN":             {},
	"NOT_FOUND":             {},
	"INVALID_CONFIGURATION": {},
	"VALIDATION_ERROR":      {},
}

// IsPermanentError reports whether an error classification is on the
// permanent denylist.
func IsPermanentError(code string) bool {
	_, permanent := permanentErrorCodes[code]

	return permanent
}

// ClassifyError maps a step failure message to an error classification
// code. The code, not the raw message, drives retry eligibility.
func ClassifyError(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(message, "Invalid step configuration"):
		return "INVALID_CONFIGURATION"
	case strings.Contains(lower, "status 401") || strings.Contains(lower, "invalid api key"):
		return "INVALID_API_KEY"
	case strings.Contains(lower, "status 403"):
		return "FORBIDDEN"
	case strings.Contains(lower, "status 404"):
		return "NOT_FOUND"
	case strings.Contains(lower, "status 429"):
		return "RATE_LIMITED"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "TIMEOUT"
	case strings.Contains(lower, "status 5"):
		return "SERVICE_UNAVAILABLE"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return "CONNECTION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
)

// DefaultBackoff returns the exponential backoff delay for a given attempt
// count, capped at an hour. Attempt 1 waits the base delay.
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseBackoff

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}

	return delay
}
