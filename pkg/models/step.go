package models

// StepType identifies which executor handles a step.
type StepType string

const (
	StepTypeCustom    StepType = "custom"
	StepTypeTransform StepType = "transform"
	StepTypeCondition StepType = "condition"
	StepTypeAPICall   StepType = "api_call"
)

// Step is one unit of work inside a workflow. Steps are supplied by the
// workflow definition and are read-only to the execution core.
type Step struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       StepType       `json:"type,omitempty"`
	Action     string         `json:"action,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	StepOrder  int            `json:"step_order,omitempty"`
}

// StepResult is the outcome of one step invocation. Executors always return
// a StepResult, never a raised error.
type StepResult struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Duration   int64  `json:"duration"` // milliseconds
	RetryCount int    `json:"retry_count,omitempty"`
}
