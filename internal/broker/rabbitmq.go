package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/fingerprint"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// amqpClient is the subset of shared/rabbitmq.Client the broker needs
type amqpClient interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	Reconnect() error
	IsConnected() bool
}

// RabbitMQ is a Broker on a durable queue with manual acknowledgements.
// Delayed redelivery goes through the retry queue, whose per-message TTL
// dead-letters the job back into the main exchange.
type RabbitMQ struct {
	client      amqpClient
	consumerTag string
	logger      *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	// inflight maps each handed-out job to its delivery tag
	inflight map[*domain.Job]uint64
}

// NewRabbitMQ creates a broker on top of a connected client
func NewRabbitMQ(client amqpClient, consumerTag string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		client:      client,
		consumerTag: consumerTag,
		logger:      logger,
		inflight:    make(map[*domain.Job]uint64),
	}
}

func (r *RabbitMQ) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.client.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return "", domain.NewInfrastructureError("enqueue", err)
	}

	r.logger.Debug("Job published",
		slog.String("job_id", job.ID),
		slog.String("fingerprint", string(job.Fingerprint)),
	)

	return job.ID, nil
}

// consume starts the consumer on first use and after a lost channel
func (r *RabbitMQ) consume() (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deliveries != nil {
		return r.deliveries, nil
	}

	if !r.client.IsConnected() {
		if err := r.client.Reconnect(); err != nil {
			return nil, err
		}
		// Tags from the old channel are void; the server redelivers those jobs.
		r.inflight = make(map[*domain.Job]uint64)
	}

	deliveries, err := r.client.Consume(r.consumerTag)
	if err != nil {
		return nil, err
	}
	r.deliveries = deliveries
	return deliveries, nil
}

func (r *RabbitMQ) resetConsumer() {
	r.mu.Lock()
	r.deliveries = nil
	r.mu.Unlock()
}

func (r *RabbitMQ) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		deliveries, err := r.consume()
		if err != nil {
			return nil, domain.NewInfrastructureError("dequeue", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				r.resetConsumer()
				r.logger.Warn("RabbitMQ delivery channel closed")
				return nil, domain.NewInfrastructureError("dequeue", errors.New("delivery channel closed"))
			}

			job, err := decodeJob(d.Body)
			if err != nil {
				r.logger.Error("Dropping malformed job message",
					slog.String("error", err.Error()),
					slog.Uint64("delivery_tag", d.DeliveryTag),
				)
				// NACK without requeue; a malformed message can never succeed
				if nackErr := r.client.Nack(d.DeliveryTag, false); nackErr != nil {
					r.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			r.mu.Lock()
			r.inflight[job] = d.DeliveryTag
			r.mu.Unlock()

			return job, nil
		}
	}
}

func decodeJob(body []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if _, err := uuid.Parse(job.ID); err != nil {
		return nil, fmt.Errorf("invalid job_id %q: %w", job.ID, err)
	}
	if !fingerprint.Valid(job.Fingerprint) {
		return nil, fmt.Errorf("invalid fingerprint %q", job.Fingerprint)
	}
	if len(job.Payload) == 0 {
		return nil, errors.New("empty payload")
	}
	return &job, nil
}

func (r *RabbitMQ) take(job *domain.Job) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, ok := r.inflight[job]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDelivery, job.ID)
	}
	delete(r.inflight, job)
	return tag, nil
}

func (r *RabbitMQ) Ack(ctx context.Context, job *domain.Job) error {
	tag, err := r.take(job)
	if err != nil {
		return err
	}

	if err := r.client.Ack(tag); err != nil {
		return domain.NewInfrastructureError("ack", err)
	}
	return nil
}

// Nack republishes the job to the retry queue and acknowledges the original
// delivery. If the republish fails the original is requeued as is.
func (r *RabbitMQ) Nack(ctx context.Context, job *domain.Job, delay time.Duration) error {
	tag, err := r.take(job)
	if err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.client.PublishDelayed(ctx, body, contentTypeJSON, delay); err != nil {
		r.logger.Warn("Failed to schedule retry, requeueing original delivery",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		if nackErr := r.client.Nack(tag, true); nackErr != nil {
			return domain.NewInfrastructureError("nack", errors.Join(err, nackErr))
		}
		return domain.NewInfrastructureError("nack", err)
	}

	if err := r.client.Ack(tag); err != nil {
		return domain.NewInfrastructureError("nack", err)
	}

	r.logger.Debug("Job scheduled for redelivery",
		slog.String("job_id", job.ID),
		slog.Int("attempt_count", job.AttemptCount),
		slog.Duration("delay", delay),
	)

	return nil
}
