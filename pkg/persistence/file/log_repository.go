package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
)

const logsDir = "execution_logs"

// ExecutionLogRepository stores step-attempt logs as one JSON-lines file per
// execution.
type ExecutionLogRepository struct {
	persistence *Persistence
}

func (r *ExecutionLogRepository) path(executionID string) string {
	return filepath.Join(r.persistence.root, logsDir, executionID+".jsonl")
}

func (r *ExecutionLogRepository) CreateLogEntry(_ context.Context, entry *models.ExecutionLogEntry) error {
	if err := validateID(entry.ExecutionID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	dir := filepath.Join(r.persistence.root, logsDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create execution logs directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	file, err := os.OpenFile(r.path(entry.ExecutionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- id validated
	if err != nil {
		return fmt.Errorf("failed to open execution log %s: %w", entry.ExecutionID, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *ExecutionLogRepository) ListLogEntries(_ context.Context, executionID string) ([]*models.ExecutionLogEntry, error) {
	if err := validateID(executionID); err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	data, err := os.ReadFile(r.path(executionID)) // #nosec G304 -- id validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read execution log %s: %w", executionID, err)
	}

	var entries []*models.ExecutionLogEntry

	decoder := json.NewDecoder(bytes.NewReader(data))
	for decoder.More() {
		var entry models.ExecutionLogEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}
