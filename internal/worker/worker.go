package worker

import (
	"context"
	"log"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/pipeline"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/queue"
	"golang.org/x/sync/errgroup"
)

const dequeueTimeout = 5 * time.Second

// Worker pulls render work items off the Redis queue and runs the pipeline.
// Concurrency is bounded by a fixed consumer count; each consumer processes
// one job at a time.
type Worker struct {
	queue       *queue.Queue
	pipeline    *pipeline.Pipeline
	concurrency int
}

func New(q *queue.Queue, p *pipeline.Pipeline, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		pipeline:    p,
		concurrency: concurrency,
	}
}

// Run blocks until ctx is cancelled, then drains: consumers finish their
// in-flight job before exiting.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[Worker] starting %d consumer(s)", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.consume(ctx, id)
		})
	}

	err := g.Wait()
	log.Printf("[Worker] stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, id int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := w.queue.Dequeue(ctx, queue.QueueRenderVideo, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Worker] consumer %d: dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if item == nil {
			continue // timed out empty, poll again
		}

		log.Printf("[Worker] consumer %d: processing job %s", id, item.JobID)
		start := time.Now()

		// Pipeline failures are terminal for the job (persisted with refund);
		// the work item is never requeued.
		if err := w.pipeline.Run(ctx, item.JobID); err != nil {
			log.Printf("[Worker] consumer %d: job %s failed after %v: %v", id, item.JobID, time.Since(start), err)
			continue
		}

		log.Printf("[Worker] consumer %d: job %s completed in %v", id, item.JobID, time.Since(start))
	}
}
