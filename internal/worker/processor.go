package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/queue"
	"github.com/dharsanguruparan/LeadVault/internal/sweep"
)

type BatchProcessor interface {
	Process(ctx context.Context, batchID string) (*model.Batch, error)
}

type SweepRunner interface {
	Run(ctx context.Context) (*sweep.Report, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	batches BatchProcessor
	sweeper SweepRunner
	log     *logger.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(batches BatchProcessor, sweeper SweepRunner, log *logger.Logger) *Processor {
	return &Processor{batches: batches, sweeper: sweeper, log: log.With("component", "worker")}
}

// Handler registers the batch and sweep handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessBatch, p.handleBatch)
	mux.HandleFunc(queue.TaskDedupSweep, p.handleSweep)
	return mux
}

func (p *Processor) handleBatch(ctx context.Context, task *asynq.Task) error {
	var payload queue.BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.BatchID == "" {
		return fmt.Errorf("payload without batch id: %w", asynq.SkipRetry)
	}
	batch, err := p.batches.Process(ctx, payload.BatchID)
	if err != nil {
		p.log.Error("batch processing failed", "batch_id", payload.BatchID, "error", err)
		return fmt.Errorf("process batch %s: %w: %w", payload.BatchID, err, asynq.SkipRetry)
	}
	p.log.Debug("batch task done", "batch_id", batch.ID, "status", batch.Status)
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := p.sweeper.Run(ctx)
	if errors.Is(err, model.ErrSweepInProgress) {
		p.log.Info("sweep skipped, another run holds the lease")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run sweep: %w", err)
	}
	return nil
}
