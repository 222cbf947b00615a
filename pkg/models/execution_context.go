package models

// ExecutionContext carries the data a step sees while it runs: the identity
// of the surrounding execution, caller-supplied parameters, and the results
// of every step executed so far.
type ExecutionContext struct {
	ExecutionID     string         `json:"execution_id"`
	WorkflowID      string         `json:"workflow_id"`
	UserID          string         `json:"user_id"`
	Attempt         int            `json:"attempt"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	StepResults     map[string]any `json:"step_results,omitempty"`
	GlobalVariables map[string]any `json:"global_variables,omitempty"`
}
