package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const executionColumns = `
	id, workflow_id, user_id, status,
	total_steps, current_step, completed_steps, failed_steps, step_results,
	attempt_count, max_attempts, retry_after, error,
	paused_at, paused_by, resumed_at, resumed_by,
	queue_job_id, queue_name, result,
	started_at, completed_at, execution_time, created_at, updated_at, metadata`

// ExecutionRepository handles execution-related database operations. All
// mutations are single statements, so concurrent workers patching the same
// record never lose counter increments.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	stepResultsJSON, err := json.Marshal(orEmptyResults(execution.StepResults))
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	metadataJSON, err := json.Marshal(orEmptyMap(execution.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	resultJSON, err := marshalNullable(execution.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, user_id, status,
			total_steps, current_step, completed_steps, failed_steps, step_results,
			attempt_count, max_attempts, retry_after, error,
			paused_at, paused_by, resumed_at, resumed_by,
			queue_job_id, queue_name, result,
			started_at, completed_at, execution_time, created_at, updated_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.UserID,
		execution.Status,
		execution.TotalSteps,
		execution.CurrentStep,
		execution.CompletedSteps,
		execution.FailedSteps,
		stepResultsJSON,
		execution.AttemptCount,
		execution.MaxAttempts,
		execution.RetryAfter,
		nullString(execution.Error),
		execution.PausedAt,
		nullString(execution.PausedBy),
		execution.ResumedAt,
		nullString(execution.ResumedBy),
		nullString(execution.QueueJobID),
		nullString(execution.QueueName),
		resultJSON,
		execution.StartedAt,
		execution.CompletedAt,
		execution.ExecutionTime,
		execution.CreatedAt,
		execution.UpdatedAt,
		metadataJSON,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// Update applies a partial patch as one UPDATE ... RETURNING statement.
// Counter fields are incremented in SQL and step results are merged with the
// JSONB concatenation operator, keeping the patch atomic.
func (r *ExecutionRepository) Update(ctx context.Context, id string, update persistence.ExecutionUpdate) (*models.WorkflowExecution, error) {
	sets := []string{"updated_at = NOW()"}

	var args []any

	arg := func(value any) string {
		args = append(args, value)

		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+arg(string(*update.Status)))
	}

	if update.CurrentStep != nil {
		sets = append(sets, "current_step = "+arg(*update.CurrentStep))
	}

	if update.ResetStepCounters {
		sets = append(sets, "completed_steps = 0", "failed_steps = 0")
	}

	// Counter deltas are clamped in SQL so completed + failed never exceeds
	// the step total, even on a duplicated report.
	if update.CompletedStepsDelta != 0 {
		sets = append(sets, "completed_steps = LEAST(GREATEST(completed_steps + "+arg(update.CompletedStepsDelta)+", 0), GREATEST(total_steps - failed_steps, 0))")
	}

	if update.FailedStepsDelta != 0 {
		sets = append(sets, "failed_steps = LEAST(GREATEST(failed_steps + "+arg(update.FailedStepsDelta)+", 0), GREATEST(total_steps - completed_steps, 0))")
	}

	if update.ClearStepResults {
		sets = append(sets, "step_results = '{}'::jsonb")
	}

	if len(update.StepResults) > 0 {
		merged, err := json.Marshal(update.StepResults)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal step results: %w", err)
		}

		sets = append(sets, "step_results = step_results || "+arg(merged)+"::jsonb")
	}

	if update.AttemptDelta != 0 {
		sets = append(sets, "attempt_count = attempt_count + "+arg(update.AttemptDelta))
	}

	if update.ClearRetryAfter {
		sets = append(sets, "retry_after = NULL")
	} else if update.RetryAfter != nil {
		sets = append(sets, "retry_after = "+arg(*update.RetryAfter))
	}

	if update.ClearError {
		sets = append(sets, "error = NULL")
	} else if update.Error != nil {
		sets = append(sets, "error = "+arg(*update.Error))
	}

	if update.PausedAt != nil {
		sets = append(sets, "paused_at = "+arg(*update.PausedAt))
	}

	if update.PausedBy != nil {
		sets = append(sets, "paused_by = "+arg(*update.PausedBy))
	}

	if update.ResumedAt != nil {
		sets = append(sets, "resumed_at = "+arg(*update.ResumedAt))
	}

	if update.ResumedBy != nil {
		sets = append(sets, "resumed_by = "+arg(*update.ResumedBy))
	}

	if update.ClearQueueJob {
		sets = append(sets, "queue_job_id = NULL", "queue_name = NULL")
	} else {
		if update.QueueJobID != nil {
			sets = append(sets, "queue_job_id = "+arg(*update.QueueJobID))
		}

		if update.QueueName != nil {
			sets = append(sets, "queue_name = "+arg(*update.QueueName))
		}
	}

	if update.ClearResult {
		sets = append(sets, "result = NULL")
	} else if update.Result != nil {
		resultJSON, err := json.Marshal(update.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		sets = append(sets, "result = "+arg(resultJSON)+"::jsonb")
	}

	if update.ClearStartedAt {
		sets = append(sets, "started_at = NULL")
	} else if update.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*update.StartedAt))
	}

	if update.ClearCompletedAt {
		sets = append(sets, "completed_at = NULL")
	} else if update.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*update.CompletedAt))
	}

	if update.ClearExecutionTime {
		sets = append(sets, "execution_time = NULL")
	} else if update.ExecutionTime != nil {
		sets = append(sets, "execution_time = "+arg(*update.ExecutionTime))
	}

	where := "id = " + arg(id)

	// The deny list rides in the WHERE clause, so the status precondition
	// and the patch are one atomic statement.
	if len(update.DenyStatuses) > 0 {
		placeholders := make([]string, 0, len(update.DenyStatuses))
		for _, status := range update.DenyStatuses {
			placeholders = append(placeholders, arg(string(status)))
		}

		where += " AND status NOT IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query := fmt.Sprintf(
		"UPDATE workflow_executions SET %s WHERE %s RETURNING %s",
		strings.Join(sets, ", "), where, executionColumns,
	)

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if len(update.DenyStatuses) > 0 {
				if _, findErr := r.FindByID(ctx, id); findErr == nil {
					return nil, persistence.NewExecutionError("Update", id, persistence.ErrStatusConflict)
				}
			}

			return nil, persistence.NewExecutionError("Update", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) FindByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := fmt.Sprintf("SELECT %s FROM workflow_executions WHERE id = $1", executionColumns)

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Find", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) FindMany(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	where, args := buildWhere(filter)

	query := fmt.Sprintf("SELECT %s FROM workflow_executions%s", executionColumns, where)

	if filter.OrderByRecent {
		query += " ORDER BY created_at DESC"
	}

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) DeleteMany(ctx context.Context, filter persistence.ExecutionFilter) (int64, error) {
	where, args := buildWhere(filter)

	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_executions"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	return deleted, nil
}

func (r *ExecutionRepository) Count(ctx context.Context, filter persistence.ExecutionFilter) (int, error) {
	where, args := buildWhere(filter)

	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

func buildWhere(filter persistence.ExecutionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	arg := func(value any) string {
		args = append(args, value)

		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			placeholders = append(placeholders, arg(string(status)))
		}

		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = "+arg(filter.WorkflowID))
	}

	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(filter.UserID))
	}

	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at < "+arg(*filter.CreatedBefore))
	}

	if filter.StartedBefore != nil {
		clauses = append(clauses, "started_at IS NOT NULL AND started_at < "+arg(*filter.StartedBefore))
	}

	if filter.RetryDue != nil {
		clauses = append(clauses, "retry_after IS NOT NULL AND retry_after <= "+arg(*filter.RetryDue))
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		stepResultsJSON []byte
		metadataJSON    []byte
		resultJSON      []byte
		errorMsg        sql.NullString
		pausedBy        sql.NullString
		resumedBy       sql.NullString
		queueJobID      sql.NullString
		queueName       sql.NullString
		retryAfter      sql.NullTime
		pausedAt        sql.NullTime
		resumedAt       sql.NullTime
		startedAt       sql.NullTime
		completedAt     sql.NullTime
		executionTime   sql.NullInt64
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.Status,
		&execution.TotalSteps,
		&execution.CurrentStep,
		&execution.CompletedSteps,
		&execution.FailedSteps,
		&stepResultsJSON,
		&execution.AttemptCount,
		&execution.MaxAttempts,
		&retryAfter,
		&errorMsg,
		&pausedAt,
		&pausedBy,
		&resumedAt,
		&resumedBy,
		&queueJobID,
		&queueName,
		&resultJSON,
		&startedAt,
		&completedAt,
		&executionTime,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(stepResultsJSON) > 0 {
		if err := json.Unmarshal(stepResultsJSON, &execution.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &execution.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &execution.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	execution.Error = errorMsg.String
	execution.PausedBy = pausedBy.String
	execution.ResumedBy = resumedBy.String
	execution.QueueJobID = queueJobID.String
	execution.QueueName = queueName.String
	execution.RetryAfter = timePtr(retryAfter)
	execution.PausedAt = timePtr(pausedAt)
	execution.ResumedAt = timePtr(resumedAt)
	execution.StartedAt = timePtr(startedAt)
	execution.CompletedAt = timePtr(completedAt)

	if executionTime.Valid {
		execution.ExecutionTime = &executionTime.Int64
	}

	return &execution, nil
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time

	return &t
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func orEmptyResults(results map[string]models.StepResult) map[string]models.StepResult {
	if results == nil {
		return map[string]models.StepResult{}
	}

	return results
}

func orEmptyMap(value map[string]any) map[string]any {
	if value == nil {
		return map[string]any{}
	}

	return value
}

func marshalNullable(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}
