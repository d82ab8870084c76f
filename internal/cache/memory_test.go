package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFingerprint = domain.Fingerprint("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")

func TestMemory_GetMiss(t *testing.T) {
	c := NewMemory()

	value, ok, err := c.Get(context.Background(), testFingerprint)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestMemory_SetThenGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.Set(ctx, testFingerprint, json.RawMessage(`{ "verdict": true,  "category": "snack" }`)))

	value, ok, err := c.Get(ctx, testFingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"verdict":true,"category":"snack"}`, string(value))
	assert.Equal(t, `{"verdict":true,"category":"snack"}`, string(value), "stored value is compact")
}

func TestMemory_SetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	result := json.RawMessage(`{"verdict":false}`)

	require.NoError(t, c.Set(ctx, testFingerprint, result))
	require.NoError(t, c.Set(ctx, testFingerprint, result))

	value, ok, err := c.Get(ctx, testFingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(result), string(value))
	assert.Equal(t, 1, c.Len())
}

func TestMemory_RejectsInvalidJSON(t *testing.T) {
	c := NewMemory()

	err := c.Set(context.Background(), testFingerprint, json.RawMessage(`{"verdict":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compact result")

	_, ok, err := c.Get(context.Background(), testFingerprint)
	require.NoError(t, err)
	assert.False(t, ok, "a rejected write leaves no entry")
}

func TestMemory_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	require.NoError(t, c.Set(ctx, testFingerprint, json.RawMessage(`{"a":1}`)))

	value, _, err := c.Get(ctx, testFingerprint)
	require.NoError(t, err)
	value[1] = 'X'

	again, _, err := c.Get(ctx, testFingerprint)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestMemory_ConcurrentReadersSeeAbsentOrFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	full := `{"verdict":true,"requirements":[{"criterion":"sugar","verdict":true}]}`

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, testFingerprint, json.RawMessage(full)))
		}()
		go func() {
			defer wg.Done()
			value, ok, err := c.Get(ctx, testFingerprint)
			assert.NoError(t, err)
			if ok {
				assert.Equal(t, full, string(value))
			}
		}()
	}
	wg.Wait()
}

func TestMemoryInflight_Claim(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewMemoryInflight()
	r.now = func() time.Time { return now }

	owner, claimed, err := r.Claim(ctx, testFingerprint, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "job-1", owner)

	owner, claimed, err = r.Claim(ctx, testFingerprint, "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "job-1", owner)

	// Re-claiming by the owner is reported as held.
	owner, claimed, err = r.Claim(ctx, testFingerprint, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "job-1", owner)

	now = now.Add(2 * time.Minute)
	owner, claimed, err = r.Claim(ctx, testFingerprint, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim is replaced")
	assert.Equal(t, "job-2", owner)
}

func TestMemoryInflight_ReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryInflight()

	_, _, err := r.Claim(ctx, testFingerprint, "job-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx, testFingerprint, "job-2"))
	owner, claimed, err := r.Claim(ctx, testFingerprint, "job-3", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "job-1", owner)

	require.NoError(t, r.Release(ctx, testFingerprint, "job-1"))
	owner, claimed, err = r.Claim(ctx, testFingerprint, "job-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "job-3", owner)
}

func TestMemoryInflight_SingleWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryInflight()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, claimed, err := r.Claim(ctx, testFingerprint, id, time.Minute)
			assert.NoError(t, err)
			if claimed {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(fmt.Sprintf("job-%d", i))
	}
	wg.Wait()

	assert.Len(t, winners, 1)
}
