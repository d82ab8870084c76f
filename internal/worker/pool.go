package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop pulls one job at a time until ctx is canceled. A job that was
// already dequeued runs to the end even if ctx is canceled meanwhile; only
// the job timeout bounds it.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	log := w.logger.With(slog.String("worker_name", workerName))
	log.Debug("Worker goroutine started")

	for {
		job, err := w.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("Worker goroutine stopping - context canceled")
				return
			}

			log.Error("Failed to dequeue job",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", w.infraRetryDelay),
			)
			if !sleep(ctx, w.infraRetryDelay) {
				return
			}
			continue
		}

		log.Info("Worker received job",
			slog.String("job_id", job.ID),
			slog.Int("attempt_count", job.AttemptCount),
		)

		w.handle(context.WithoutCancel(ctx), job)
	}
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
