// Package redis provides a Redis-backed implementation of the queue
// contract: a list per queue for scheduling and a status key per job.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/queue"
)

const statusTTL = 24 * time.Hour

// Queue implements queue.QueueService and queue.Consumer on top of Redis.
// Jobs are LPUSHed onto a list keyed by queue name; job status lives in a
// per-job key so cancellation can be observed by the consumer after the job
// left the list.
type Queue struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

func NewQueue(ctx context.Context, cfg Config, logger *slog.Logger) (*Queue, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With("module", "redis_queue", "addr", cfg.Addr)
	logger.InfoContext(ctx, "Connected to Redis")

	return &Queue{client: client, logger: logger}, nil
}

func listKey(queueName string) string {
	return "stepflow:queue:" + queueName
}

func statusKey(jobID string) string {
	return "stepflow:job:" + jobID
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *queue.Job) error {
	job.Queue = queueName
	job.EnqueuedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.Set(ctx, statusKey(job.ID), string(queue.JobStatusQueued), statusTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}

	err = q.client.LPush(ctx, listKey(queueName), payload).Err()
	if err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}

	q.logger.InfoContext(ctx, "Enqueued job", "job_id", job.ID, "queue", queueName, "execution_id", job.ExecutionID)

	return nil
}

// CancelJob marks the job cancelled. The job may already have left the
// list; the consumer checks the status key before running it, and an
// unknown job is not an error.
func (q *Queue) CancelJob(ctx context.Context, queueName, jobID string) error {
	err := q.client.Set(ctx, statusKey(jobID), string(queue.JobStatusCancelled), statusTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}

	q.logger.InfoContext(ctx, "Cancelled job", "job_id", jobID, "queue", queueName)

	return nil
}

func (q *Queue) GetJobStatus(ctx context.Context, _ string, jobID string) (queue.JobStatus, error) {
	status, err := q.client.Get(ctx, statusKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return queue.JobStatusUnknown, queue.ErrJobNotFound
		}

		return queue.JobStatusUnknown, fmt.Errorf("failed to get job status: %w", err)
	}

	return queue.JobStatus(status), nil
}

// Dequeue blocks for up to timeout waiting for a job. A nil job with a nil
// error means the timeout elapsed with nothing to do. Jobs cancelled while
// queued are dropped here and never handed to the caller.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	result, err := q.client.BLPop(ctx, timeout, listKey(queueName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	status, err := q.GetJobStatus(ctx, queueName, job.ID)
	if err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		return nil, err
	}

	if status == queue.JobStatusCancelled {
		q.logger.InfoContext(ctx, "Dropping cancelled job", "job_id", job.ID)

		return nil, nil
	}

	return &job, nil
}

func (q *Queue) MarkJobStatus(ctx context.Context, jobID string, status queue.JobStatus) error {
	err := q.client.Set(ctx, statusKey(jobID), string(status), statusTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark job status: %w", err)
	}

	return nil
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
