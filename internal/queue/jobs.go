package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

const (
	// TaskProcessBatch is scheduled each time an upload is accepted.
	TaskProcessBatch = "batch:process"
	// TaskDedupSweep runs the near-duplicate sweep, on a schedule or on demand.
	TaskDedupSweep = "dedup:sweep"
)

// BatchPayload is serialized into the task payload so the worker knows which
// batch to load.
type BatchPayload struct {
	BatchID string `json:"batch_id"`
}

func NewBatchTask(batchID string) (*asynq.Task, error) {
	data, err := json.Marshal(BatchPayload{BatchID: batchID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskProcessBatch, data), nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskDedupSweep, nil)
}

// Client enqueues LeadVault tasks on Redis.
type Client struct {
	client   *asynq.Client
	sweepTTL time.Duration
}

// NewClient wraps an asynq client. sweepTTL bounds how long an enqueued
// sweep blocks another enqueue.
func NewClient(client *asynq.Client, sweepTTL time.Duration) *Client {
	return &Client{client: client, sweepTTL: sweepTTL}
}

// Dispatch enqueues a batch exactly once. Batches are never retried by the
// queue: a failed run leaves the batch failed.
func (c *Client) Dispatch(ctx context.Context, batchID string) error {
	task, err := NewBatchTask(batchID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.TaskID(batchID))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue batch task: %w", err)
	}
	return nil
}

// TriggerSweep asks the workers for an immediate sweep. A sweep already
// waiting in the queue makes this a no-op reported as
// model.ErrSweepInProgress.
func (c *Client) TriggerSweep(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, NewSweepTask(), asynq.MaxRetry(0), asynq.Unique(c.sweepTTL))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return model.ErrSweepInProgress
	}
	if err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
