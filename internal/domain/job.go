package domain

import (
	"encoding/json"
	"time"
)

// Fingerprint is the lowercase hex SHA-256 digest of submitted content
type Fingerprint string

// Job is the unit of work carried by the broker from submitters to workers
type Job struct {
	ID           string      `json:"job_id"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	Payload      []byte      `json:"payload"`
	AttemptCount int         `json:"attempt_count"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
}

// JobStatus is the lifecycle record clients poll for
type JobStatus struct {
	JobID       string          `json:"job_id"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	State       State           `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal reports whether the status can no longer change
func (s *JobStatus) Terminal() bool {
	return s.State.Terminal()
}
