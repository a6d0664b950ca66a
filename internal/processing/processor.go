// Package processing runs batches on an in-process worker pool for the
// all-in-one server, where no Redis queue is available.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// ErrQueueFull is returned by Dispatch when every buffered slot is taken.
var ErrQueueFull = errors.New("processing queue full")

type BatchProcessor interface {
	Process(ctx context.Context, batchID string) (*model.Batch, error)
}

// Pool consumes batch ids from a buffered channel.
type Pool struct {
	batches BatchProcessor
	queue   chan string
	workers int
	log     *logger.Logger
	wg      sync.WaitGroup
}

// New builds a Pool with queue capacity tied to worker count.
func New(batches BatchProcessor, workers int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		batches: batches,
		queue:   make(chan string, workers*4),
		workers: workers,
		log:     log.With("component", "processing"),
	}
}

// Start launches worker goroutines. They exit when ctx is done; a batch
// already picked up runs to its terminal status first.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Dispatch queues a batch without blocking the upload request.
func (p *Pool) Dispatch(_ context.Context, batchID string) error {
	select {
	case p.queue <- batchID:
		return nil
	default:
		p.log.Warn("processing queue full, rejecting batch", "batch_id", batchID)
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if _, err := p.batches.Process(context.WithoutCancel(ctx), id); err != nil {
				p.log.Error("batch processing failed", "batch_id", id, "error", err)
			}
		}
	}
}
