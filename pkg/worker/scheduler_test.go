package worker

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/execution"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/queue"
)

type schedulerFixture struct {
	scheduler  *Scheduler
	manager    *execution.Manager
	repository persistence.ExecutionRepository
	queues     *mocks.MockQueueService
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := file.NewPersistence(t.TempDir())
	queues := &mocks.MockQueueService{}
	manager := execution.NewManager(store.Executions(), queues, logger)

	return &schedulerFixture{
		scheduler:  NewScheduler("executions", manager, queues, 30*time.Minute, 30, logger),
		manager:    manager,
		repository: store.Executions(),
		queues:     queues,
	}
}

func (f *schedulerFixture) seed(t *testing.T, mutate func(*models.WorkflowExecution)) *models.WorkflowExecution {
	t.Helper()

	now := time.Now().UTC()
	exec := &models.WorkflowExecution{
		ID:          "exec-" + t.Name() + "-" + now.Format("150405.000000000"),
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		Status:      models.ExecutionStatusPending,
		TotalSteps:  1,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if mutate != nil {
		mutate(exec)
	}

	require.NoError(t, f.repository.Create(context.Background(), exec))

	return exec
}

func TestScheduler_SweepRetries_PromotesFailed(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	eligible := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusFailed
		e.Error = "TIMEOUT"
		e.AttemptCount = 1
	})

	permanent := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusFailed
		e.Error = "INVALID_API_KEY"
		e.AttemptCount = 1
	})

	exhausted := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusFailed
		e.Error = "TIMEOUT"
		e.AttemptCount = 3
	})

	f.scheduler.SweepRetries(ctx)

	promoted, err := f.manager.GetExecution(ctx, eligible.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRetrying, promoted.Status)
	assert.Equal(t, 2, promoted.AttemptCount)
	require.NotNil(t, promoted.RetryAfter)

	for _, skipped := range []*models.WorkflowExecution{permanent, exhausted} {
		current, err := f.manager.GetExecution(ctx, skipped.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, current.Status, current.ID)
	}
}

func TestScheduler_SweepRetries_EnqueuesDue(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRetrying
		e.AttemptCount = 1
		e.RetryAfter = &past
		e.Metadata = map[string]any{
			"steps":      []any{map[string]any{"id": "s1", "action": "noop"}},
			"parameters": map[string]any{"tier": "basic"},
		}
	})

	waiting := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRetrying
		e.AttemptCount = 1
		e.RetryAfter = &future
	})

	f.queues.On("Enqueue", mock.Anything, "executions", mock.MatchedBy(func(job *queue.Job) bool {
		return job.ExecutionID == due.ID && job.Payload["steps"] != nil
	})).Return(nil).Once()

	f.scheduler.SweepRetries(ctx)

	requeued, err := f.manager.GetExecution(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, requeued.Status)
	assert.NotEmpty(t, requeued.QueueJobID)
	assert.Equal(t, "executions", requeued.QueueName)

	still, err := f.manager.GetExecution(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRetrying, still.Status)

	f.queues.AssertExpectations(t)
}

func TestScheduler_SweepRetries_PendingBeforeJobVisible(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)

	due := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRetrying
		e.AttemptCount = 1
		e.RetryAfter = &past
		e.Metadata = map[string]any{
			"steps": []any{map[string]any{"id": "s1", "action": "noop"}},
		}
	})

	// A worker can consume the job the instant Enqueue returns, so by then
	// the execution must already be pending with the job bound.
	var atEnqueue *models.WorkflowExecution

	f.queues.On("Enqueue", mock.Anything, "executions", mock.Anything).Run(func(args mock.Arguments) {
		current, err := f.repository.FindByID(ctx, due.ID)
		require.NoError(t, err)
		atEnqueue = current
	}).Return(nil).Once()

	f.scheduler.SweepRetries(ctx)

	require.NotNil(t, atEnqueue)
	assert.Equal(t, models.ExecutionStatusPending, atEnqueue.Status)
	assert.NotEmpty(t, atEnqueue.QueueJobID)
	assert.Nil(t, atEnqueue.RetryAfter)

	f.queues.AssertExpectations(t)
}

func TestScheduler_SweepRetries_EnqueueFailureLeavesRetrying(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)

	due := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRetrying
		e.AttemptCount = 1
		e.RetryAfter = &past
	})

	f.queues.On("Enqueue", mock.Anything, "executions", mock.Anything).Return(assert.AnError).Once()

	f.scheduler.SweepRetries(ctx)

	current, err := f.manager.GetExecution(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRetrying, current.Status, "a failed enqueue leaves the execution for the next sweep")
	assert.Empty(t, current.QueueJobID, "the unbound job is not left associated")
	assert.Equal(t, 1, current.AttemptCount, "an aborted dispatch consumes no attempt")
	require.NotNil(t, current.RetryAfter)
	assert.False(t, current.RetryAfter.After(time.Now().UTC()), "the execution stays due")
}

func TestScheduler_SweepStuck(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)

	stuck := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRunning
		e.StartedAt = &old
	})

	healthy := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusRunning
		e.StartedAt = &recent
	})

	f.scheduler.SweepStuck(ctx)

	failed, err := f.manager.GetExecution(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, "WORKER_TIMEOUT", failed.Error)
	require.NotNil(t, failed.CompletedAt)

	running, err := f.manager.GetExecution(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, running.Status)
}

func TestScheduler_SweepCleanup(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusCompleted
		e.CreatedAt = time.Now().UTC().AddDate(0, 0, -60)
	})

	kept := f.seed(t, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionStatusCompleted
	})

	f.scheduler.SweepCleanup(ctx)

	remaining, err := f.repository.FindMany(ctx, persistence.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, kept.ID, remaining[0].ID)
}
