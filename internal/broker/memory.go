package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/google/uuid"
)

// Memory is a process-local Broker used by the embedded worker and tests
type Memory struct {
	mu       sync.Mutex
	pending  []*domain.Job
	inflight map[*domain.Job]struct{}
	timers   map[*time.Timer]struct{}
	notify   chan struct{}
	closed   bool
	now      func() time.Time
}

// NewMemory creates an empty in-memory broker
func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[*domain.Job]struct{}),
		timers:   make(map[*time.Timer]struct{}),
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (m *Memory) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = m.now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", domain.NewInfrastructureError("enqueue", fmt.Errorf("broker is closed"))
	}
	m.push(&job)
	return job.ID, nil
}

// push must be called with mu held
func (m *Memory) push(job *domain.Job) {
	m.pending = append(m.pending, job)
	m.signal()
}

func (m *Memory) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			job := m.pending[0]
			m.pending = m.pending[1:]
			m.inflight[job] = struct{}{}
			if len(m.pending) > 0 {
				m.signal()
			}
			m.mu.Unlock()
			return job, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

// take must be called with mu held
func (m *Memory) take(job *domain.Job) error {
	if _, ok := m.inflight[job]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDelivery, job.ID)
	}
	delete(m.inflight, job)
	return nil
}

func (m *Memory) Ack(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.take(job)
}

func (m *Memory) Nack(ctx context.Context, job *domain.Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.take(job); err != nil {
		return err
	}

	redelivery := *job
	if delay <= 0 {
		m.push(&redelivery)
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.timers, timer)
		if !m.closed {
			m.push(&redelivery)
		}
	})
	m.timers[timer] = struct{}{}
	return nil
}

// Len returns the number of jobs waiting for delivery
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// InFlight returns the number of delivered but unacknowledged jobs,
// including jobs waiting out a retry delay
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight) + len(m.timers)
}

// Close drops pending redelivery timers
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for timer := range m.timers {
		timer.Stop()
	}
	m.timers = make(map[*time.Timer]struct{})
	return nil
}
