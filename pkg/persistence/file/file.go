// Package file provides a JSON-file persistence implementation, used for
// development and tests.
package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence stores executions and logs as JSON files under a root
// directory. A single mutex serializes mutations, which is what gives
// Update its atomic semantics in this implementation.
type Persistence struct {
	root string
	mu   sync.Mutex

	executions *ExecutionRepository
	logs       *ExecutionLogRepository
}

func NewPersistence(root string) *Persistence {
	p := &Persistence{root: root}
	p.executions = &ExecutionRepository{persistence: p}
	p.logs = &ExecutionLogRepository{persistence: p}

	return p
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) ExecutionLogs() persistence.ExecutionLogRepository {
	return p.logs
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("failed to stat persistence root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("persistence root %s is not a directory", p.root)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
