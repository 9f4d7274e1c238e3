// Package queue is the asynq producer side. The database row is the source
// of truth for job state; the queue only carries delivery, so a payload is
// nothing more than the job and document IDs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TaskTypeParseDocument is the asynq task type for document parse jobs.
const TaskTypeParseDocument = "document:parse"

// ParsePayload is the wire body of a parse task.
type ParsePayload struct {
	JobID      uuid.UUID `json:"jobId"`
	DocumentID uuid.UUID `json:"documentId"`
	TenantID   int64     `json:"tenantId"`
}

// Queue enqueues parse work for the worker pool.
type Queue interface {
	EnqueueParse(ctx context.Context, p ParsePayload) error
	EnqueueManualRetry(ctx context.Context, p ParsePayload) error
	Close() error
}

type asynqQueue struct {
	client     *asynq.Client
	redis      *redis.Client
	maxRetries int
	timeout    time.Duration
}

// Config carries the producer settings.
type Config struct {
	RedisAddr  string
	RedisDB    int
	MaxRetries int
	Timeout    time.Duration
}

// New creates an asynq-backed queue. The broker is pinged once so a dead
// redis fails the process at startup instead of on the first upload.
func New(cfg Config) (Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	return &asynqQueue{
		client:     client,
		redis:      rdb,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
	}, nil
}

// EnqueueParse submits one parse task. The asynq task ID is the job ID, so a
// duplicate submission of the same job is rejected by the broker instead of
// producing a second delivery.
func (q *asynqQueue) EnqueueParse(ctx context.Context, p ParsePayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal parse payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeParseDocument, body,
		asynq.TaskID(p.JobID.String()),
		asynq.MaxRetry(q.maxRetries),
		asynq.Timeout(q.timeout),
	)
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue parse task: %w", err)
	}
	return nil
}

// EnqueueManualRetry submits a fresh delivery for a requeued job. The
// original task may still sit in asynq's archived set under the job's ID, so
// this one gets a broker-generated ID; the claim step in the database keeps
// duplicate deliveries harmless.
func (q *asynqQueue) EnqueueManualRetry(ctx context.Context, p ParsePayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal parse payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeParseDocument, body,
		asynq.MaxRetry(q.maxRetries),
		asynq.Timeout(q.timeout),
	)
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue retry task: %w", err)
	}
	return nil
}

func (q *asynqQueue) Close() error {
	err := q.client.Close()
	if cerr := q.redis.Close(); err == nil {
		err = cerr
	}
	return err
}
