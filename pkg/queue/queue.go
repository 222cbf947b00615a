// Package queue defines the narrow contract the execution core requires
// from the job-scheduling backend.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound indicates a job id is unknown to the queue backend.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the queue backend's view of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusUnknown   JobStatus = "unknown"
)

// Job is one scheduling unit, associated 1:1 with an in-flight execution.
type Job struct {
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// QueueService is the contract the state manager calls into. CancelJob is
// tolerant of already-finished or unknown jobs: cancelling one is not an
// error.
type QueueService interface {
	Enqueue(ctx context.Context, queueName string, job *Job) error
	CancelJob(ctx context.Context, queueName, jobID string) error
	GetJobStatus(ctx context.Context, queueName, jobID string) (JobStatus, error)
}

// Consumer is the worker-side half of the queue: a blocking dequeue with a
// timeout. Implemented alongside QueueService by queue backends.
type Consumer interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)
	MarkJobStatus(ctx context.Context, jobID string, status JobStatus) error
}
