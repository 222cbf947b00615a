package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/stepflow/pkg/queue"
)

// MockQueueService is a mock implementation of queue.QueueService and
// queue.Consumer.
type MockQueueService struct {
	mock.Mock
}

func (m *MockQueueService) Enqueue(ctx context.Context, queueName string, job *queue.Job) error {
	args := m.Called(ctx, queueName, job)

	return args.Error(0)
}

func (m *MockQueueService) CancelJob(ctx context.Context, queueName, jobID string) error {
	args := m.Called(ctx, queueName, jobID)

	return args.Error(0)
}

func (m *MockQueueService) GetJobStatus(ctx context.Context, queueName, jobID string) (queue.JobStatus, error) {
	args := m.Called(ctx, queueName, jobID)

	return args.Get(0).(queue.JobStatus), args.Error(1)
}

func (m *MockQueueService) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	args := m.Called(ctx, queueName, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockQueueService) MarkJobStatus(ctx context.Context, jobID string, status queue.JobStatus) error {
	args := m.Called(ctx, jobID, status)

	return args.Error(0)
}
