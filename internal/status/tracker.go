// Package status records the lifecycle of analysis jobs for polling clients.
package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Tracker owns job lifecycle records.
// Transitions follow domain.CanTransition; terminal states never change.
type Tracker interface {
	Create(ctx context.Context, jobID string, fp domain.Fingerprint) error
	MarkRunning(ctx context.Context, jobID string, attempt int) error
	MarkSuccess(ctx context.Context, jobID string, result json.RawMessage) error
	MarkFailure(ctx context.Context, jobID string, errMsg string) error
	Get(ctx context.Context, jobID string) (*domain.JobStatus, error)
}

// Lister is implemented by trackers that can page through jobs
type Lister interface {
	// List returns up to PageSize+1 jobs, newest first, so callers can tell
	// whether another page exists.
	List(ctx context.Context, filter JobFilter) ([]domain.JobStatus, error)
}

// JobFilter narrows a listing
type JobFilter struct {
	State    domain.State
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the position of the last job on the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// after reports whether s sorts after the cursor in newest-first order
func (c *JobCursor) after(s *domain.JobStatus) bool {
	if c == nil {
		return true
	}
	if s.CreatedAt.Equal(c.CreatedAt) {
		return s.JobID < c.JobID
	}
	return s.CreatedAt.Before(c.CreatedAt)
}
