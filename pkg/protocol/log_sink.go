package protocol

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// LogSink receives one record per step attempt. Writes are best-effort: the
// runner emits them without awaiting success, and a sink failure must never
// fail the step that produced the entry.
type LogSink interface {
	CreateLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error
}
