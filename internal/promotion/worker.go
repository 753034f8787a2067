// internal/promotion/worker.go
package promotion

import (
	"context"

	"github.com/libranexus/lending/internal/jobs"
)

// Consumer is the consuming side of the job queue.
type Consumer interface {
	Run(ctx context.Context, concurrency int, handler jobs.Handler) error
}

// Worker feeds queued commands to the Promoter. Delivery is at least once;
// the queue dead-letters a command once its redeliveries are exhausted.
type Worker struct {
	queue       Consumer
	promoter    *Promoter
	concurrency int
}

func NewWorker(queue Consumer, promoter *Promoter, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{queue: queue, promoter: promoter, concurrency: concurrency}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Run(ctx, w.concurrency, w.promoter.HandleJob)
}
