// Package models defines the core domain models for workflow execution tracking.
package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"   // Created, waiting for a worker
	ExecutionStatusRunning   ExecutionStatus = "running"   // A worker is executing steps
	ExecutionStatusPaused    ExecutionStatus = "paused"    // Suspended by a user, resumable
	ExecutionStatusRetrying  ExecutionStatus = "retrying"  // Failed, scheduled for another attempt
	ExecutionStatusCompleted ExecutionStatus = "completed" // All steps finished successfully
	ExecutionStatusFailed    ExecutionStatus = "failed"    // Finished with a failure
	ExecutionStatusCancelled ExecutionStatus = "cancelled" // Cancelled by a user
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every status from which no transition exists.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
	}
}

// WorkflowExecution tracks one run of a workflow end to end.
type WorkflowExecution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	UserID     string `json:"user_id"     validate:"required"`

	Status ExecutionStatus `json:"status" validate:"required"`

	TotalSteps     int                   `json:"total_steps" validate:"gte=0"`
	CurrentStep    int                   `json:"current_step"`
	CompletedSteps int                   `json:"completed_steps"`
	FailedSteps    int                   `json:"failed_steps"`
	StepResults    map[string]StepResult `json:"step_results,omitempty"`

	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts" validate:"gte=1"`
	RetryAfter   *time.Time `json:"retry_after,omitempty"`
	Error        string     `json:"error,omitempty"`

	PausedAt  *time.Time `json:"paused_at,omitempty"`
	PausedBy  string     `json:"paused_by,omitempty"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
	ResumedBy string     `json:"resumed_by,omitempty"`

	QueueJobID string `json:"queue_job_id,omitempty"`
	QueueName  string `json:"queue_name,omitempty"`

	Result map[string]any `json:"result,omitempty"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExecutionTime *int64     `json:"execution_time,omitempty"` // milliseconds, set on terminal states
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionLogEntry records one step attempt inside an execution.
type ExecutionLogEntry struct {
	ID            string    `json:"id"`
	ExecutionID   string    `json:"execution_id"`
	StepID        string    `json:"step_id"`
	AttemptNumber int       `json:"attempt_number"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Data          any       `json:"data,omitempty"`
	Duration      int64     `json:"duration"` // milliseconds
	CreatedAt     time.Time `json:"created_at"`
}
