package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	persistence *Persistence
}

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

func (r *ExecutionRepository) path(id string) string {
	return filepath.Join(r.persistence.root, executionsDir, id+".json")
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	if _, err := os.Stat(r.path(execution.ID)); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return r.write(execution)
}

func (r *ExecutionRepository) Update(_ context.Context, id string, update persistence.ExecutionUpdate) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution, err := r.read(id)
	if err != nil {
		return nil, err
	}

	for _, denied := range update.DenyStatuses {
		if execution.Status == denied {
			return nil, persistence.NewExecutionError("Update", id, persistence.ErrStatusConflict)
		}
	}

	applyUpdate(execution, update)
	execution.UpdatedAt = time.Now().UTC()

	if err := r.write(execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) FindByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.read(id)
}

func (r *ExecutionRepository) FindMany(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	executions, err := r.readAll()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowExecution, 0, len(executions))

	for _, execution := range executions {
		if matches(execution, filter) {
			matched = append(matched, execution)
		}
	}

	if filter.OrderByRecent {
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

func (r *ExecutionRepository) DeleteMany(_ context.Context, filter persistence.ExecutionFilter) (int64, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	executions, err := r.readAll()
	if err != nil {
		return 0, err
	}

	var deleted int64

	for _, execution := range executions {
		if !matches(execution, filter) {
			continue
		}

		if err := os.Remove(r.path(execution.ID)); err != nil {
			return deleted, fmt.Errorf("failed to delete execution %s: %w", execution.ID, err)
		}

		deleted++
	}

	return deleted, nil
}

func (r *ExecutionRepository) Count(_ context.Context, filter persistence.ExecutionFilter) (int, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	executions, err := r.readAll()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, execution := range executions {
		if matches(execution, filter) {
			count++
		}
	}

	return count, nil
}

func (r *ExecutionRepository) read(id string) (*models.WorkflowExecution, error) {
	data, err := os.ReadFile(r.path(id)) // #nosec G304 -- id is validated and the path is constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("Find", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) readAll() ([]*models.WorkflowExecution, error) {
	dir := filepath.Join(r.persistence.root, executionsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		execution, err := r.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (r *ExecutionRepository) write(execution *models.WorkflowExecution) error {
	dir := filepath.Join(r.persistence.root, executionsDir)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	if err := os.WriteFile(r.path(execution.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return nil
}

func matches(execution *models.WorkflowExecution, filter persistence.ExecutionFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false

		for _, status := range filter.Statuses {
			if execution.Status == status {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if filter.WorkflowID != "" && execution.WorkflowID != filter.WorkflowID {
		return false
	}

	if filter.UserID != "" && execution.UserID != filter.UserID {
		return false
	}

	if filter.CreatedBefore != nil && !execution.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}

	if filter.StartedBefore != nil {
		if execution.StartedAt == nil || !execution.StartedAt.Before(*filter.StartedBefore) {
			return false
		}
	}

	if filter.RetryDue != nil {
		if execution.RetryAfter == nil || execution.RetryAfter.After(*filter.RetryDue) {
			return false
		}
	}

	return true
}

// applyUpdate applies a partial patch to an execution in place.
func applyUpdate(execution *models.WorkflowExecution, update persistence.ExecutionUpdate) {
	if update.Status != nil {
		execution.Status = *update.Status
	}

	if update.CurrentStep != nil {
		execution.CurrentStep = *update.CurrentStep
	}

	if update.ResetStepCounters {
		execution.CompletedSteps = 0
		execution.FailedSteps = 0
	}

	// Deltas are clamped so the counters stay within [0, totalSteps] and
	// their sum never exceeds the step total, even on a duplicated report.
	if update.CompletedStepsDelta != 0 {
		execution.CompletedSteps = clampCounter(
			execution.CompletedSteps+update.CompletedStepsDelta,
			execution.TotalSteps-execution.FailedSteps,
		)
	}

	if update.FailedStepsDelta != 0 {
		execution.FailedSteps = clampCounter(
			execution.FailedSteps+update.FailedStepsDelta,
			execution.TotalSteps-execution.CompletedSteps,
		)
	}

	if update.ClearStepResults {
		execution.StepResults = nil
	}

	if len(update.StepResults) > 0 {
		if execution.StepResults == nil {
			execution.StepResults = make(map[string]models.StepResult, len(update.StepResults))
		}

		for key, result := range update.StepResults {
			execution.StepResults[key] = result
		}
	}

	execution.AttemptCount += update.AttemptDelta

	if update.ClearRetryAfter {
		execution.RetryAfter = nil
	} else if update.RetryAfter != nil {
		execution.RetryAfter = update.RetryAfter
	}

	if update.ClearError {
		execution.Error = ""
	} else if update.Error != nil {
		execution.Error = *update.Error
	}

	if update.PausedAt != nil {
		execution.PausedAt = update.PausedAt
	}

	if update.PausedBy != nil {
		execution.PausedBy = *update.PausedBy
	}

	if update.ResumedAt != nil {
		execution.ResumedAt = update.ResumedAt
	}

	if update.ResumedBy != nil {
		execution.ResumedBy = *update.ResumedBy
	}

	if update.ClearQueueJob {
		execution.QueueJobID = ""
		execution.QueueName = ""
	} else {
		if update.QueueJobID != nil {
			execution.QueueJobID = *update.QueueJobID
		}

		if update.QueueName != nil {
			execution.QueueName = *update.QueueName
		}
	}

	if update.ClearResult {
		execution.Result = nil
	} else if update.Result != nil {
		execution.Result = update.Result
	}

	if update.ClearStartedAt {
		execution.StartedAt = nil
	} else if update.StartedAt != nil {
		execution.StartedAt = update.StartedAt
	}

	if update.ClearCompletedAt {
		execution.CompletedAt = nil
	} else if update.CompletedAt != nil {
		execution.CompletedAt = update.CompletedAt
	}

	if update.ClearExecutionTime {
		execution.ExecutionTime = nil
	} else if update.ExecutionTime != nil {
		execution.ExecutionTime = update.ExecutionTime
	}
}

func clampCounter(value, limit int) int {
	return min(max(value, 0), max(limit, 0))
}
