package mocks

import (
	"context"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
)

// RecordingLogSink captures execution log entries in memory for tests. It
// is safe for concurrent use since the runner emits entries from detached
// goroutines.
type RecordingLogSink struct {
	mu      sync.Mutex
	entries []*models.ExecutionLogEntry
	err     error
}

// NewRecordingLogSink returns a sink that stores entries. A non-nil err
// makes every write fail, for exercising the fire-and-forget path.
func NewRecordingLogSink(err error) *RecordingLogSink {
	return &RecordingLogSink{err: err}
}

func (s *RecordingLogSink) CreateLogEntry(_ context.Context, entry *models.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.entries = append(s.entries, entry)

	return nil
}

// Entries returns a copy of everything captured so far.
func (s *RecordingLogSink) Entries() []*models.ExecutionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*models.ExecutionLogEntry(nil), s.entries...)
}
