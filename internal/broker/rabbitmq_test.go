package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/fingerprint"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	body  []byte
	delay time.Duration
}

type fakeAMQP struct {
	mu         sync.Mutex
	connected  bool
	deliveries chan amqp.Delivery
	published  []published
	delayed    []published
	acked      []uint64
	nacked     map[uint64]bool
	publishErr error
	consumes   int
	reconnects int
}

func newFakeAMQP() *fakeAMQP {
	return &fakeAMQP{
		connected:  true,
		deliveries: make(chan amqp.Delivery, 8),
		nacked:     make(map[uint64]bool),
	}
}

func (f *fakeAMQP) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{body: body})
	return nil
}

func (f *fakeAMQP) PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.delayed = append(f.delayed, published{body: body, delay: delay})
	return nil
}

func (f *fakeAMQP) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumes++
	return f.deliveries, nil
}

func (f *fakeAMQP) Ack(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAMQP) Nack(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked[tag] = requeue
	return nil
}

func (f *fakeAMQP) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.connected = true
	f.deliveries = make(chan amqp.Delivery, 8)
	return nil
}

func (f *fakeAMQP) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func jobBody(t *testing.T, job domain.Job) []byte {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return body
}

func validJob() domain.Job {
	payload := []byte("\x89PNG fake image")
	return domain.Job{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint.Sum(payload),
		Payload:     payload,
	}
}

func TestRabbitMQ_Enqueue(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())

	job := validJob()
	id, err := b.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)

	require.Len(t, client.published, 1)
	var sent domain.Job
	require.NoError(t, json.Unmarshal(client.published[0].body, &sent))
	assert.Equal(t, job.ID, sent.ID)
	assert.Equal(t, job.Payload, sent.Payload)
	assert.False(t, sent.EnqueuedAt.IsZero())
}

func TestRabbitMQ_EnqueueFailureIsInfrastructure(t *testing.T) {
	client := newFakeAMQP()
	client.publishErr = errors.New("connection refused")
	b := NewRabbitMQ(client, "worker-1", slog.Default())

	_, err := b.Enqueue(context.Background(), validJob())
	require.Error(t, err)
	assert.True(t, domain.IsInfrastructure(err))
}

func TestRabbitMQ_DequeueSkipsMalformed(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())

	bad := validJob()
	bad.ID = "not-a-uuid"
	job := validJob()

	client.deliveries <- amqp.Delivery{DeliveryTag: 1, Body: []byte("{not json")}
	client.deliveries <- amqp.Delivery{DeliveryTag: 2, Body: jobBody(t, bad)}
	client.deliveries <- amqp.Delivery{DeliveryTag: 3, Body: jobBody(t, job)}

	got, err := b.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	assert.Equal(t, map[uint64]bool{1: false, 2: false}, client.nacked)
	assert.Equal(t, 1, client.consumes)
}

func TestRabbitMQ_AckUsesDeliveryTag(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())
	ctx := context.Background()

	job := validJob()
	client.deliveries <- amqp.Delivery{DeliveryTag: 7, Body: jobBody(t, job)}

	got, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, got))
	assert.Equal(t, []uint64{7}, client.acked)

	assert.ErrorIs(t, b.Ack(ctx, got), ErrUnknownDelivery)
}

func TestRabbitMQ_NackRepublishesWithAttemptCount(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())
	ctx := context.Background()

	client.deliveries <- amqp.Delivery{DeliveryTag: 4, Body: jobBody(t, validJob())}

	got, err := b.Dequeue(ctx)
	require.NoError(t, err)
	got.AttemptCount = 2

	require.NoError(t, b.Nack(ctx, got, time.Minute))

	require.Len(t, client.delayed, 1)
	assert.Equal(t, time.Minute, client.delayed[0].delay)
	var sent domain.Job
	require.NoError(t, json.Unmarshal(client.delayed[0].body, &sent))
	assert.Equal(t, 2, sent.AttemptCount)
	assert.Equal(t, []uint64{4}, client.acked, "original delivery is settled")
}

func TestRabbitMQ_NackRequeuesWhenRetryPublishFails(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())
	ctx := context.Background()

	client.deliveries <- amqp.Delivery{DeliveryTag: 5, Body: jobBody(t, validJob())}
	got, err := b.Dequeue(ctx)
	require.NoError(t, err)

	client.publishErr = errors.New("channel closed")
	err = b.Nack(ctx, got, time.Minute)
	require.Error(t, err)
	assert.True(t, domain.IsInfrastructure(err))
	assert.Equal(t, map[uint64]bool{5: true}, client.nacked)
	assert.Empty(t, client.acked)
}

func TestRabbitMQ_ReconnectsAfterClosedChannel(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())
	ctx := context.Background()

	first := client.deliveries
	_, _ = b.consume()
	close(first)
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()

	_, err := b.Dequeue(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsInfrastructure(err))

	job := validJob()
	body := jobBody(t, job)
	go func() {
		// Reconnect replaces the delivery channel; wait for it.
		for {
			client.mu.Lock()
			ch, n := client.deliveries, client.reconnects
			client.mu.Unlock()
			if n > 0 {
				ch <- amqp.Delivery{DeliveryTag: 1, Body: body}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := b.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, client.reconnects)
}

func TestRabbitMQ_DequeueHonoursContext(t *testing.T) {
	b := NewRabbitMQ(newFakeAMQP(), "worker-1", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRabbitMQ_DuplicateDeliveriesSettleOwnTags(t *testing.T) {
	client := newFakeAMQP()
	b := NewRabbitMQ(client, "worker-1", slog.Default())
	ctx := context.Background()

	body := jobBody(t, validJob())
	client.deliveries <- amqp.Delivery{DeliveryTag: 1, Body: body}
	client.deliveries <- amqp.Delivery{DeliveryTag: 2, Body: body}

	first, err := b.Dequeue(ctx)
	require.NoError(t, err)
	second, err := b.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	require.NoError(t, b.Ack(ctx, first))
	require.NoError(t, b.Nack(ctx, second, time.Minute))

	assert.Equal(t, []uint64{1, 2}, client.acked)
	assert.Len(t, client.delayed, 1)
	assert.ErrorIs(t, b.Ack(ctx, first), ErrUnknownDelivery)
}
