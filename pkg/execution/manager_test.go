package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
)

func newTestManager(t *testing.T) (*Manager, *mocks.MockQueueService) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	queues := &mocks.MockQueueService{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return NewManager(store.Executions(), queues, logger), queues
}

func createExecution(t *testing.T, manager *Manager, params CreateExecutionParams) *models.WorkflowExecution {
	t.Helper()

	execution, err := manager.CreateExecution(context.Background(), params)
	require.NoError(t, err)

	return execution
}

func TestCreateExecution_Defaults(t *testing.T) {
	manager, _ := newTestManager(t)

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1",
		UserID:     "user-1",
		TotalSteps: 5,
	})

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 3, execution.MaxAttempts)
	assert.Equal(t, 0, execution.AttemptCount)
	assert.Nil(t, execution.StartedAt)
	assert.Contains(t, execution.ID, "exec-")
}

func TestCreateExecution_InvalidParams(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.CreateExecution(context.Background(), CreateExecutionParams{
		UserID:     "user-1",
		TotalSteps: 5,
	})
	require.Error(t, err)

	_, err = manager.CreateExecution(context.Background(), CreateExecutionParams{
		WorkflowID: "wf-1",
		UserID:     "user-1",
		TotalSteps: -1,
	})
	require.Error(t, err)
}

func TestUpdateStatus_RunningStampsStartedAtOnce(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	updated, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning, StatusUpdate{})
	require.NoError(t, err)
	require.NotNil(t, updated.StartedAt)

	first := *updated.StartedAt

	time.Sleep(5 * time.Millisecond)

	updated, err = manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning, StatusUpdate{})
	require.NoError(t, err)
	assert.True(t, updated.StartedAt.Equal(first), "startedAt must not change on repeated RUNNING transitions")
}

func TestUpdateStatus_RetryingIncrementsAttemptAndSchedulesRetry(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	before := time.Now().UTC()

	updated, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRetrying, StatusUpdate{
		Error: "TIMEOUT",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, updated.AttemptCount)
	assert.Equal(t, "TIMEOUT", updated.Error)
	require.NotNil(t, updated.RetryAfter)
	assert.True(t, updated.RetryAfter.After(before.Add(29*time.Second)), "first retry should back off ~30s")
}

func TestUpdateStatus_CompletedRecordsExecutionTime(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
	})

	_, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning, StatusUpdate{})
	require.NoError(t, err)

	updated, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusCompleted, StatusUpdate{
		Result: map[string]any{"ok": true},
	})
	require.NoError(t, err)

	require.NotNil(t, updated.CompletedAt)
	require.NotNil(t, updated.ExecutionTime)
	assert.GreaterOrEqual(t, *updated.ExecutionTime, int64(0))
	assert.Equal(t, true, updated.Result["ok"])
}

func TestUpdateStatus_DeadEndStatusesRejected(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	queues.On("CancelJob", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cancelled := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.CancelExecution(ctx, cancelled.ID, "user-2")
	require.NoError(t, err)

	// A worker finishing its last step after the cancel must not revive
	// the execution.
	_, err = manager.UpdateStatus(ctx, cancelled.ID, models.ExecutionStatusCompleted, StatusUpdate{})
	require.ErrorIs(t, err, ErrTerminalStatus)

	current, err := manager.GetExecution(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, current.Status)

	completed := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err = manager.UpdateStatus(ctx, completed.ID, models.ExecutionStatusCompleted, StatusUpdate{})
	require.NoError(t, err)

	_, err = manager.UpdateStatus(ctx, completed.ID, models.ExecutionStatusRetrying, StatusUpdate{})
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestUpdateStatus_FailedIsNotADeadEnd(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusFailed, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)

	retried, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRetrying, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRetrying, retried.Status)
	assert.Equal(t, 1, retried.AttemptCount)
}

func TestPrepareRetryDispatch(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusFailed, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)

	_, err = manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRetrying, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)

	dispatched, err := manager.PrepareRetryDispatch(ctx, execution.ID, "job-1", "executions")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, dispatched.Status)
	assert.Equal(t, "job-1", dispatched.QueueJobID)
	assert.Equal(t, "executions", dispatched.QueueName)
	assert.Nil(t, dispatched.RetryAfter)

	require.NoError(t, manager.AbortRetryDispatch(ctx, execution.ID))

	reverted, err := manager.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRetrying, reverted.Status)
	assert.Empty(t, reverted.QueueJobID)
	require.NotNil(t, reverted.RetryAfter)
}

func TestPrepareRetryDispatch_DeadEndRejected(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	queues.On("CancelJob", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.CancelExecution(ctx, execution.ID, "user-2")
	require.NoError(t, err)

	_, err = manager.PrepareRetryDispatch(ctx, execution.ID, "job-1", "executions")
	require.ErrorIs(t, err, persistence.ErrStatusConflict)
}

func TestUpdateProgress_CountersNeverExceedTotal(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	// A duplicated report must not push the counters past the total.
	for range 3 {
		_, err := manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{CompletedStepsDelta: 1})
		require.NoError(t, err)
	}

	updated, err := manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{FailedStepsDelta: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, updated.CompletedSteps)
	assert.Equal(t, 0, updated.FailedSteps)
	assert.LessOrEqual(t, updated.CompletedSteps+updated.FailedSteps, updated.TotalSteps)
}

func TestUpdateProgress_DeltasAccumulate(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 5,
	})

	step := 1
	_, err := manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{
		CurrentStep:         &step,
		CompletedStepsDelta: 1,
	})
	require.NoError(t, err)

	step = 2
	updated, err := manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{
		CurrentStep:         &step,
		CompletedStepsDelta: 1,
		StepResults: map[string]models.StepResult{
			"step-2": {Success: true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, updated.CompletedSteps)
	assert.Equal(t, 2, updated.CurrentStep)
	assert.Contains(t, updated.StepResults, "step-2")
}

func TestGetExecutionProgress_Percentage(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 5,
	})

	_, err := manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{CompletedStepsDelta: 2})
	require.NoError(t, err)

	progress, err := manager.GetExecutionProgress(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, 40, progress.Progress)
	assert.Equal(t, 2, progress.CompletedSteps)
	assert.Equal(t, 5, progress.TotalSteps)
}

func TestGetExecutionProgress_ZeroTotalSteps(t *testing.T) {
	manager, _ := newTestManager(t)

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 0,
	})

	progress, err := manager.GetExecutionProgress(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Progress)
}

func TestPauseExecution_CancelsQueueJob(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.SetQueueJob(ctx, execution.ID, "job-abc", "executions")
	require.NoError(t, err)

	queues.On("CancelJob", mock.Anything, "executions", "job-abc").Return(nil).Once()

	paused, err := manager.PauseExecution(ctx, execution.ID, "user-2")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, "user-2", paused.PausedBy)
	require.NotNil(t, paused.PausedAt)
	assert.Empty(t, paused.QueueJobID)
	queues.AssertExpectations(t)
	queues.AssertNumberOfCalls(t, "CancelJob", 1)
}

func TestPauseExecution_NoQueueJob(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	paused, err := manager.PauseExecution(ctx, execution.ID, "user-2")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	queues.AssertNotCalled(t, "CancelJob", mock.Anything, mock.Anything, mock.Anything)
}

func TestPauseExecution_QueueCancelFailureDoesNotBlock(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.SetQueueJob(ctx, execution.ID, "job-abc", "executions")
	require.NoError(t, err)

	queues.On("CancelJob", mock.Anything, "executions", "job-abc").Return(assert.AnError).Once()

	paused, err := manager.PauseExecution(ctx, execution.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
}

func TestPauseExecution_TerminalRejected(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusCompleted, StatusUpdate{})
	require.NoError(t, err)

	_, err = manager.PauseExecution(ctx, execution.ID, "user-2")
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestResumeExecution(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.ResumeExecution(ctx, execution.ID, "user-2")
	require.ErrorIs(t, err, ErrNotPaused)

	_, err = manager.PauseExecution(ctx, execution.ID, "user-2")
	require.NoError(t, err)

	resumed, err := manager.ResumeExecution(ctx, execution.ID, "user-3")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, resumed.Status)
	assert.Equal(t, "user-3", resumed.ResumedBy)
	require.NotNil(t, resumed.ResumedAt)
}

func TestCancelExecution(t *testing.T) {
	manager, queues := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	_, err := manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning, StatusUpdate{})
	require.NoError(t, err)

	_, err = manager.SetQueueJob(ctx, execution.ID, "job-xyz", "executions")
	require.NoError(t, err)

	queues.On("CancelJob", mock.Anything, "executions", "job-xyz").Return(nil).Once()

	cancelled, err := manager.CancelExecution(ctx, execution.ID, "user-9")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Equal(t, true, cancelled.Result["cancelled"])
	assert.Equal(t, "user-9", cancelled.Result["cancelled_by"])
	require.NotNil(t, cancelled.CompletedAt)
	require.NotNil(t, cancelled.ExecutionTime)
	queues.AssertExpectations(t)

	_, err = manager.CancelExecution(ctx, execution.ID, "user-9")
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestResetExecutionForRetry(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	execution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 4,
	})

	_, err := manager.ResetExecutionForRetry(ctx, execution.ID)
	require.ErrorIs(t, err, ErrNotFailed)

	_, err = manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRunning, StatusUpdate{})
	require.NoError(t, err)

	step := 2
	_, err = manager.UpdateProgress(ctx, execution.ID, ProgressUpdate{
		CurrentStep:         &step,
		CompletedStepsDelta: 1,
		FailedStepsDelta:    1,
		StepResults: map[string]models.StepResult{
			"step-1": {Success: true},
		},
	})
	require.NoError(t, err)

	_, err = manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusRetrying, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)

	_, err = manager.UpdateStatus(ctx, execution.ID, models.ExecutionStatusFailed, StatusUpdate{Error: "TIMEOUT"})
	require.NoError(t, err)

	reset, err := manager.ResetExecutionForRetry(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, reset.Status)
	assert.Equal(t, 0, reset.CurrentStep)
	assert.Equal(t, 0, reset.CompletedSteps)
	assert.Equal(t, 0, reset.FailedSteps)
	assert.Empty(t, reset.StepResults)
	assert.Empty(t, reset.Error)
	assert.Nil(t, reset.Result)
	assert.Nil(t, reset.StartedAt)
	assert.Nil(t, reset.CompletedAt)
	assert.Nil(t, reset.ExecutionTime)
	assert.Nil(t, reset.RetryAfter)
	assert.Equal(t, 1, reset.AttemptCount, "attempt history survives a manual reset")

	progress, err := manager.GetExecutionProgress(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Progress)
}

func TestShouldRetry(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name     string
		mutate   func(*persistence.ExecutionUpdate)
		attempts int
		expected bool
	}{
		{
			name:     "transient error with attempts left",
			attempts: 1,
			mutate: func(u *persistence.ExecutionUpdate) {
				errMsg := "TIMEOUT"
				u.Error = &errMsg
				u.RetryAfter = &past
			},
			expected: true,
		},
		{
			name:     "attempts exhausted",
			attempts: 3,
			mutate: func(u *persistence.ExecutionUpdate) {
				errMsg := "TIMEOUT"
				u.Error = &errMsg
			},
			expected: false,
		},
		{
			name:     "permanent error with attempts left",
			attempts: 1,
			mutate: func(u *persistence.ExecutionUpdate) {
				errMsg := "INVALID_API_KEY"
				u.Error = &errMsg
			},
			expected: false,
		},
		{
			name:     "retry scheduled in the future",
			attempts: 1,
			mutate: func(u *persistence.ExecutionUpdate) {
				errMsg := "TIMEOUT"
				u.Error = &errMsg
				u.RetryAfter = &future
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution := createExecution(t, manager, CreateExecutionParams{
				WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2, MaxAttempts: 3,
			})

			status := models.ExecutionStatusFailed
			update := persistence.ExecutionUpdate{
				Status:       &status,
				AttemptDelta: tt.attempts,
			}
			tt.mutate(&update)

			_, err := manager.repository.Update(ctx, execution.ID, update)
			require.NoError(t, err)

			eligible, err := manager.ShouldRetry(ctx, execution.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, eligible)
		})
	}
}

func TestGetRetryableExecutions_FiltersPermanent(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	failWith := func(errMsg string) *models.WorkflowExecution {
		execution := createExecution(t, manager, CreateExecutionParams{
			WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
		})

		status := models.ExecutionStatusFailed
		_, err := manager.repository.Update(ctx, execution.ID, persistence.ExecutionUpdate{
			Status:       &status,
			AttemptDelta: 1,
			Error:        &errMsg,
		})
		require.NoError(t, err)

		return execution
	}

	transient := failWith("TIMEOUT")
	failWith("INVALID_API_KEY")

	eligible, err := manager.GetRetryableExecutions(ctx)
	require.NoError(t, err)

	require.Len(t, eligible, 1)
	assert.Equal(t, transient.ID, eligible[0].ID)
}

func TestGetStuckExecutions(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	stuck := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})
	fresh := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 2,
	})

	running := models.ExecutionStatusRunning
	old := time.Now().UTC().Add(-2 * time.Hour)
	now := time.Now().UTC()

	_, err := manager.repository.Update(ctx, stuck.ID, persistence.ExecutionUpdate{Status: &running, StartedAt: &old})
	require.NoError(t, err)
	_, err = manager.repository.Update(ctx, fresh.ID, persistence.ExecutionUpdate{Status: &running, StartedAt: &now})
	require.NoError(t, err)

	found, err := manager.GetStuckExecutions(ctx, 30*time.Minute)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID, found[0].ID)
}

func TestCleanupOldExecutions_TerminalOnly(t *testing.T) {
	root := t.TempDir()
	store := file.NewPersistence(root)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := NewManager(store.Executions(), &mocks.MockQueueService{}, logger)
	ctx := context.Background()

	oldCompleted := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
	})
	oldRunning := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
	})
	recentCompleted := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
	})

	setStatus := func(id string, status models.ExecutionStatus) {
		t.Helper()

		_, err := manager.repository.Update(ctx, id, persistence.ExecutionUpdate{Status: &status})
		require.NoError(t, err)
	}

	setStatus(oldCompleted.ID, models.ExecutionStatusCompleted)
	setStatus(oldRunning.ID, models.ExecutionStatusRunning)
	setStatus(recentCompleted.ID, models.ExecutionStatusCompleted)

	// The repository never mutates created_at, so backdate the stored
	// records directly.
	old := time.Now().UTC().AddDate(0, 0, -60)
	backdate(t, root, oldCompleted.ID, old)
	backdate(t, root, oldRunning.ID, old)

	deleted, err := manager.CleanupOldExecutions(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = manager.repository.FindByID(ctx, oldCompleted.ID)
	require.Error(t, err)

	_, err = manager.repository.FindByID(ctx, oldRunning.ID)
	require.NoError(t, err, "non-terminal executions survive cleanup regardless of age")

	_, err = manager.repository.FindByID(ctx, recentCompleted.ID)
	require.NoError(t, err)
}

func backdate(t *testing.T, root, id string, createdAt time.Time) {
	t.Helper()

	path := filepath.Join(root, "executions", id+".json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var execution models.WorkflowExecution

	require.NoError(t, json.Unmarshal(data, &execution))

	execution.CreatedAt = createdAt

	data, err = json.MarshalIndent(execution, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestGetExecutionMetrics(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	for range 2 {
		execution := createExecution(t, manager, CreateExecutionParams{
			WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
		})

		status := models.ExecutionStatusCompleted
		executionTime := int64(1000)
		_, err := manager.repository.Update(ctx, execution.ID, persistence.ExecutionUpdate{
			Status:        &status,
			ExecutionTime: &executionTime,
		})
		require.NoError(t, err)
	}

	failedExecution := createExecution(t, manager, CreateExecutionParams{
		WorkflowID: "wf-1", UserID: "user-1", TotalSteps: 1,
	})

	failed := models.ExecutionStatusFailed
	_, err := manager.repository.Update(ctx, failedExecution.ID, persistence.ExecutionUpdate{Status: &failed})
	require.NoError(t, err)

	metrics, err := manager.GetExecutionMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, metrics.TotalExecutions)
	assert.Equal(t, 2, metrics.SuccessfulExecutions)
	assert.Equal(t, 1, metrics.FailedExecutions)
	assert.InDelta(t, 66.67, metrics.SuccessRate, 0.01)
	assert.InDelta(t, 1000, metrics.AverageExecutionTime, 0.01)
	assert.Len(t, metrics.RecentExecutions, 3)
}
