package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/shared/logger"
)

// errJobFinished marks a delivery whose job already reached a terminal state
var errJobFinished = errors.New("job already finished")

// handle runs one delivery and settles it with the broker
func (w *Worker) handle(ctx context.Context, job *domain.Job) {
	ctx = logger.ContextAttrs(ctx,
		slog.String("job_id", job.ID),
		slog.String("fingerprint", string(job.Fingerprint)),
		slog.Int("attempt", job.AttemptCount+1),
	)

	err := w.processJob(ctx, job)
	w.settle(ctx, job, err)
}

// processJob moves the job to RUNNING, runs the pipeline unless the result
// is already cached, then writes the cache before marking SUCCESS
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	s, err := w.tracker.Get(ctx, job.ID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		w.logger.WarnContext(ctx, "Job has no status record, recreating it")
		if err := w.tracker.Create(ctx, job.ID, job.Fingerprint); err != nil && !errors.Is(err, domain.ErrJobExists) {
			return infrastructure("status create", err)
		}
	case err != nil:
		return infrastructure("status get", err)
	case s.Terminal():
		return errJobFinished
	}

	if err := w.tracker.MarkRunning(ctx, job.ID, job.AttemptCount+1); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return errJobFinished
		}
		return infrastructure("status running", err)
	}

	cached, ok, err := w.cache.Get(ctx, job.Fingerprint)
	if err != nil {
		return infrastructure("cache get", err)
	}
	if ok {
		w.logger.InfoContext(ctx, "Result already cached, skipping pipeline")
		return w.complete(ctx, job, cached)
	}

	result, err := w.run(ctx, job)
	if err != nil {
		return err
	}

	if err := w.cache.Set(ctx, job.Fingerprint, result); err != nil {
		return infrastructure("cache set", err)
	}
	return w.complete(ctx, job, result)
}

func (w *Worker) complete(ctx context.Context, job *domain.Job, result json.RawMessage) error {
	if err := w.tracker.MarkSuccess(ctx, job.ID, result); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return errJobFinished
		}
		return infrastructure("status success", err)
	}
	return nil
}

// run executes the pipeline under the job timeout. A panic is reported as
// a transient failure.
func (w *Worker) run(ctx context.Context, job *domain.Job) (result json.RawMessage, err error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "Recovered from panic in pipeline",
				slog.Any("panic", r),
			)
			err = domain.NewTransientError("pipeline", fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	result, err = w.runner.Run(ctx, job.Payload)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Pipeline finished",
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// settle acks terminal outcomes and nacks everything that must run again
func (w *Worker) settle(ctx context.Context, job *domain.Job, err error) {
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "Job completed successfully")
		w.release(ctx, job)
		w.ack(ctx, job)

	case errors.Is(err, errJobFinished):
		w.logger.InfoContext(ctx, "Job already finished, dropping delivery")
		w.release(ctx, job)
		w.ack(ctx, job)

	case domain.IsInfrastructure(err):
		// The retry budget is reserved for pipeline failures.
		w.logger.ErrorContext(ctx, "Backing service unavailable, redelivering job",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", w.infraRetryDelay),
		)
		w.nack(ctx, job, w.infraRetryDelay)

	default:
		w.retry(ctx, job, err)
	}
}

// retry counts a failed pipeline run and either schedules the next attempt
// or records FAILURE
func (w *Worker) retry(ctx context.Context, job *domain.Job, err error) {
	job.AttemptCount++

	if job.AttemptCount <= w.maxRetries {
		delay := w.backoff.Delay(job.AttemptCount)
		w.logger.WarnContext(ctx, "Job will be retried",
			slog.String("error", err.Error()),
			slog.Int("retry_count", job.AttemptCount),
			slog.Int("max_retries", w.maxRetries),
			slog.Duration("retry_in", delay),
		)
		w.nack(ctx, job, delay)
		return
	}

	w.logger.ErrorContext(ctx, "Job exceeded max retries",
		slog.String("error", fmt.Errorf("%w: %w", domain.ErrExhaustedRetries, err).Error()),
		slog.Int("retry_count", job.AttemptCount),
		slog.Int("max_retries", w.maxRetries),
	)

	markErr := w.tracker.MarkFailure(ctx, job.ID, failureMessage(err, job.AttemptCount))
	if markErr != nil && !errors.Is(markErr, domain.ErrInvalidTransition) {
		w.logger.ErrorContext(ctx, "Failed to update job status to FAILURE",
			slog.String("error", markErr.Error()),
		)
		w.nack(ctx, job, w.infraRetryDelay)
		return
	}

	w.release(ctx, job)
	w.ack(ctx, job)
}

// failureMessage is the human readable error stored with a FAILURE status
func failureMessage(err error, attempts int) string {
	var te *domain.TransientError
	if errors.As(err, &te) {
		return fmt.Sprintf("%s failed after %d attempts: %s", te.Stage, attempts, te.Err.Error())
	}
	return fmt.Sprintf("analysis failed after %d attempts: %s", attempts, err.Error())
}

func (w *Worker) ack(ctx context.Context, job *domain.Job) {
	if err := w.broker.Ack(ctx, job); err != nil {
		w.logger.ErrorContext(ctx, "Failed to ACK message",
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(ctx context.Context, job *domain.Job, delay time.Duration) {
	if err := w.broker.Nack(ctx, job, delay); err != nil {
		w.logger.ErrorContext(ctx, "Failed to NACK message",
			slog.String("error", err.Error()),
		)
	}
}

// release drops the in-flight claim so the next submission of the same
// content is not joined to a finished job
func (w *Worker) release(ctx context.Context, job *domain.Job) {
	if w.inflight == nil {
		return
	}
	if err := w.inflight.Release(ctx, job.Fingerprint, job.ID); err != nil {
		w.logger.WarnContext(ctx, "Failed to release in-flight claim",
			slog.String("error", err.Error()),
		)
	}
}

func infrastructure(op string, err error) error {
	if domain.IsInfrastructure(err) {
		return err
	}
	return domain.NewInfrastructureError(op, err)
}
