// Package persistence provides the data storage abstraction for workflow
// executions and their step logs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// ExecutionUpdate is a partial patch applied to a stored execution. Nil
// pointer fields are left unchanged; Clear flags null out nullable fields;
// AttemptDelta and the step counters are applied as increments so concurrent
// workers never lose updates through read-modify-write.
type ExecutionUpdate struct {
	Status *models.ExecutionStatus

	// DenyStatuses rejects the whole patch with ErrStatusConflict when the
	// stored status is one of these. The check happens atomically with the
	// update, so callers can enforce transition rules without a second
	// read-modify-write window.
	DenyStatuses []models.ExecutionStatus

	CurrentStep         *int
	CompletedStepsDelta int
	FailedStepsDelta    int
	ResetStepCounters   bool
	StepResults         map[string]models.StepResult // merged into stored results
	ClearStepResults    bool

	AttemptDelta    int
	RetryAfter      *time.Time
	ClearRetryAfter bool
	Error           *string
	ClearError      bool

	PausedAt  *time.Time
	PausedBy  *string
	ResumedAt *time.Time
	ResumedBy *string

	QueueJobID    *string
	QueueName     *string
	ClearQueueJob bool

	Result      map[string]any
	ClearResult bool

	StartedAt          *time.Time
	ClearStartedAt     bool
	CompletedAt        *time.Time
	ClearCompletedAt   bool
	ExecutionTime      *int64
	ClearExecutionTime bool
}

// ExecutionFilter selects executions for list, delete, and count operations.
// Zero-valued fields do not constrain the result.
type ExecutionFilter struct {
	Statuses      []models.ExecutionStatus
	WorkflowID    string
	UserID        string
	CreatedBefore *time.Time
	StartedBefore *time.Time
	RetryDue      *time.Time // retry_after set and at or before this instant
	Limit         int
	OrderByRecent bool
}

// ExecutionRepository is the narrow store contract the state manager
// composes. It never issues raw queries; every mutation is one of these
// primitives, applied atomically by the implementation.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, id string, update ExecutionUpdate) (*models.WorkflowExecution, error)
	FindByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	FindMany(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)
	DeleteMany(ctx context.Context, filter ExecutionFilter) (int64, error)
	Count(ctx context.Context, filter ExecutionFilter) (int, error)
}

// ExecutionLogRepository stores per-attempt step logs. CreateLogEntry also
// satisfies the runner's LogSink contract.
type ExecutionLogRepository interface {
	CreateLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error
	ListLogEntries(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error)
}

// Persistence bundles the repositories behind one connectable unit.
type Persistence interface {
	Executions() ExecutionRepository
	ExecutionLogs() ExecutionLogRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
