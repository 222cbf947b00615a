package models

// ExecutionProgress is a derived view of how far an execution has advanced.
// It is computed on demand, never stored.
type ExecutionProgress struct {
	CurrentStep            int   `json:"current_step"`
	TotalSteps             int   `json:"total_steps"`
	CompletedSteps         int   `json:"completed_steps"`
	FailedSteps            int   `json:"failed_steps"`
	Progress               int   `json:"progress"`                 // percentage, rounded
	EstimatedTimeRemaining int64 `json:"estimated_time_remaining"` // milliseconds, 0 when unknown
}

// ExecutionMetrics aggregates execution outcomes across the store.
type ExecutionMetrics struct {
	TotalExecutions      int                  `json:"total_executions"`
	SuccessfulExecutions int                  `json:"successful_executions"`
	FailedExecutions     int                  `json:"failed_executions"`
	SuccessRate          float64              `json:"success_rate"`
	AverageExecutionTime float64              `json:"average_execution_time"` // milliseconds
	RecentExecutions     []*WorkflowExecution `json:"recent_executions"`
}
