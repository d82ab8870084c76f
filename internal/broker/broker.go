// Package broker carries analysis jobs from the submission API to workers.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// ErrUnknownDelivery is returned when Ack or Nack is given a job that was
// not handed out by Dequeue or was already settled
var ErrUnknownDelivery = errors.New("job is not in flight")

// Broker is a durable at-least-once job queue.
//
// Dequeue hands out a *domain.Job that stays owned by the caller until Ack or
// Nack is called with that same pointer. Each delivery is settled on its own,
// so two deliveries of one job ID can be in flight together. Nack re-delivers
// the job as the caller last left it, so an incremented AttemptCount travels
// with the redelivery.
type Broker interface {
	// Enqueue keeps a pre-assigned job ID and generates one otherwise
	Enqueue(ctx context.Context, job domain.Job) (string, error)
	// Dequeue blocks until a job is available or ctx is done
	Dequeue(ctx context.Context) (*domain.Job, error)
	Ack(ctx context.Context, job *domain.Job) error
	Nack(ctx context.Context, job *domain.Job, delay time.Duration) error
}
