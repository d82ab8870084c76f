package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Memory is a process-local cache
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.Fingerprint][]byte
}

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[domain.Fingerprint][]byte)}
}

func (m *Memory) Get(ctx context.Context, fp domain.Fingerprint) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.entries[fp]
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(append([]byte(nil), value...)), true, nil
}

func (m *Memory) Set(ctx context.Context, fp domain.Fingerprint, value json.RawMessage) error {
	data, err := compact(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[fp] = data
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached fingerprints
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

type claim struct {
	jobID     string
	expiresAt time.Time
}

// MemoryInflight is a process-local Inflight registry
type MemoryInflight struct {
	mu     sync.Mutex
	claims map[domain.Fingerprint]claim
	now    func() time.Time
}

// NewMemoryInflight creates an empty registry
func NewMemoryInflight() *MemoryInflight {
	return &MemoryInflight{
		claims: make(map[domain.Fingerprint]claim),
		now:    time.Now,
	}
}

func (m *MemoryInflight) Claim(ctx context.Context, fp domain.Fingerprint, jobID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.claims[fp]; ok && now.Before(c.expiresAt) {
		return c.jobID, c.jobID == jobID, nil
	}

	m.claims[fp] = claim{jobID: jobID, expiresAt: now.Add(ttl)}
	return jobID, true, nil
}

func (m *MemoryInflight) Release(ctx context.Context, fp domain.Fingerprint, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.claims[fp]; ok && c.jobID == jobID {
		delete(m.claims, fp)
	}
	return nil
}
