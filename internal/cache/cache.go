// Package cache stores finished analysis results keyed by content fingerprint.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Cache maps a fingerprint to the serialized result of its analysis.
// A reader observes either no entry or the full value, never a partial write.
type Cache interface {
	Get(ctx context.Context, fp domain.Fingerprint) (json.RawMessage, bool, error)
	Set(ctx context.Context, fp domain.Fingerprint, value json.RawMessage) error
}

// Inflight tracks which job currently owns an uncached fingerprint
type Inflight interface {
	// Claim records jobID as the owner of fp unless another job already holds it.
	// It returns the current owner and whether the claim was taken by jobID.
	Claim(ctx context.Context, fp domain.Fingerprint, jobID string, ttl time.Duration) (string, bool, error)
	// Release drops the claim if it is still held by jobID
	Release(ctx context.Context, fp domain.Fingerprint, jobID string) error
}

func compact(value json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, fmt.Errorf("failed to compact result: %w", err)
	}
	return buf.Bytes(), nil
}
