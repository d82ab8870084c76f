package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/cuongbtq/labelscan/internal/submission"
)

// Coordinator is the part of the submission flow the HTTP layer needs
type Coordinator interface {
	CheckFilename(name string) error
	Submit(ctx context.Context, r io.Reader) (*submission.Outcome, error)
	Status(ctx context.Context, jobID string) (*domain.JobStatus, error)
	List(ctx context.Context, filter status.JobFilter) ([]domain.JobStatus, error)
}

// HealthCheck pings one backing service
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	ServiceName    string
	Coordinator    Coordinator
	HealthChecks   map[string]HealthCheck
	MaxUploadBytes int64
	RateLimit      float64
	RateBurst      int
}

// AnalysisHandler handles submission and status requests
type AnalysisHandler struct {
	logger         *slog.Logger
	coordinator    Coordinator
	maxUploadBytes int64
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:         deps.Logger,
		coordinator:    deps.Coordinator,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
