package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// StatusProcessing is reported for freshly queued jobs
const StatusProcessing = "processing"

type SubmitResponse struct {
	Cached      bool            `json:"cached"`
	Result      json.RawMessage `json:"result,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Fingerprint string          `json:"fingerprint"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	Fingerprint string          `json:"fingerprint"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// FromJobStatus converts a tracker record into its wire form
func FromJobStatus(s *domain.JobStatus) JobDTO {
	return JobDTO{
		JobID:       s.JobID,
		Fingerprint: string(s.Fingerprint),
		Status:      string(s.State),
		Attempts:    s.Attempts,
		Result:      s.Result,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}
