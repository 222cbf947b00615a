package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// ExecutionLogRepository handles step-attempt log database operations.
type ExecutionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionLogRepository creates a new execution log repository.
func NewExecutionLogRepository(db *sql.DB, logger *slog.Logger) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, logger: logger}
}

func (r *ExecutionLogRepository) CreateLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error {
	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry data: %w", err)
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, step_id, attempt_number, success, error, data, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.StepID,
		entry.AttemptNumber,
		entry.Success,
		nullString(entry.Error),
		dataJSON,
		entry.Duration,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	return nil
}

func (r *ExecutionLogRepository) ListLogEntries(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error) {
	query := `
		SELECT id, execution_id, step_id, attempt_number, success, error, data, duration, created_at
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ExecutionLogEntry

	for rows.Next() {
		var (
			entry    models.ExecutionLogEntry
			errorMsg sql.NullString
			dataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.StepID,
			&entry.AttemptNumber,
			&entry.Success,
			&errorMsg,
			&dataJSON,
			&entry.Duration,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.Error = errorMsg.String

		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log entry data: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}

	return entries, nil
}
