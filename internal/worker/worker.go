// Package worker runs the analysis pipeline for queued jobs and records
// their outcome in the result cache and the status tracker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/labelscan/internal/broker"
	"github.com/cuongbtq/labelscan/internal/cache"
	"github.com/cuongbtq/labelscan/internal/pipeline"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/google/uuid"
)

// ErrShutdownTimeout is returned by Run when in-flight jobs outlive the
// shutdown timeout
var ErrShutdownTimeout = errors.New("worker shutdown timeout exceeded")

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Broker   broker.Broker
	Cache    cache.Cache
	Tracker  status.Tracker
	Runner   pipeline.Runner
	Inflight cache.Inflight // optional

	Concurrency     int
	MaxRetries      int
	Backoff         Backoff
	InfraRetryDelay time.Duration
	JobTimeout      time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger   *slog.Logger
	broker   broker.Broker
	cache    cache.Cache
	tracker  status.Tracker
	runner   pipeline.Runner
	inflight cache.Inflight

	workerID        string
	concurrency     int
	maxRetries      int
	backoff         Backoff
	infraRetryDelay time.Duration
	jobTimeout      time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	return &Worker{
		logger:          cfg.Logger,
		broker:          cfg.Broker,
		cache:           cfg.Cache,
		tracker:         cfg.Tracker,
		runner:          cfg.Runner,
		inflight:        cfg.Inflight,
		workerID:        fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		concurrency:     cfg.Concurrency,
		maxRetries:      cfg.MaxRetries,
		backoff:         cfg.Backoff,
		infraRetryDelay: cfg.InfraRetryDelay,
		jobTimeout:      cfg.JobTimeout,
		stopChan:        make(chan struct{}),
	}
}

// ID returns the identifier used in logs and as the consumer tag
func (w *Worker) ID() string {
	return w.workerID
}

// Start processes jobs until ctx is canceled or Stop is called. It returns
// once every pool goroutine has finished its current job.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_retries", w.maxRetries),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
		w.logger.Info("Stopping worker...")
	}

	cancel()
	w.wg.Wait()
	w.logger.Info("Worker stopped")

	return nil
}

// Run is Start with a bounded shutdown. Once ctx is done it waits at most
// shutdownTimeout for in-flight jobs, then returns ErrShutdownTimeout and
// leaves those jobs to finish in the background. A non-positive timeout
// waits indefinitely.
func (w *Worker) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		return <-done
	}

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		w.logger.Warn("Worker shutdown timeout exceeded, abandoning in-flight jobs",
			slog.Duration("shutdown_timeout", shutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// Stop asks Start to return. It does not wait.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}
