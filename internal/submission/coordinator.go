// Package submission accepts label photos, answers repeats from the result
// cache and queues everything else for the workers.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cuongbtq/labelscan/internal/broker"
	"github.com/cuongbtq/labelscan/internal/cache"
	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/fingerprint"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrListingUnsupported is returned by List when the tracker cannot page
var ErrListingUnsupported = errors.New("job listing is not supported by the status backend")

// Config holds upload limits and the in-flight claim settings
type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	AllowedMIMETypes  []string
	DedupeInflight    bool
	InflightTTL       time.Duration
}

// Outcome is either a cached result or the id of a queued job
type Outcome struct {
	Cached      bool
	Result      json.RawMessage
	JobID       string
	Fingerprint domain.Fingerprint
}

// Coordinator implements the submission flow
type Coordinator struct {
	cache    cache.Cache
	tracker  status.Tracker
	broker   broker.Broker
	inflight cache.Inflight
	config   Config
	logger   *slog.Logger
	newID    func() string
}

// New creates a coordinator. inflight may be nil; it is only consulted when
// config.DedupeInflight is set.
func New(c cache.Cache, tracker status.Tracker, b broker.Broker, inflight cache.Inflight, config Config, logger *slog.Logger) *Coordinator {
	if !config.DedupeInflight {
		inflight = nil
	}
	return &Coordinator{
		cache:    c,
		tracker:  tracker,
		broker:   b,
		inflight: inflight,
		config:   config,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// CheckFilename rejects uploads whose extension is not allowed
func (c *Coordinator) CheckFilename(name string) error {
	if len(c.config.AllowedExtensions) == 0 {
		return nil
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return domain.NewInputError("file name %q has no extension", name)
	}
	if !slices.Contains(c.config.AllowedExtensions, ext) {
		return domain.NewInputError("file extension %q is not allowed", ext)
	}
	return nil
}

// Submit fingerprints the content and either returns the cached result or
// queues a new job. It never waits for the analysis itself.
func (c *Coordinator) Submit(ctx context.Context, r io.Reader) (*Outcome, error) {
	fp, data, err := fingerprint.Read(r, c.config.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, domain.NewInputError("failed to read upload: %v", err)
	}

	if err := c.checkContentType(data); err != nil {
		return nil, err
	}

	log := c.logger.With(slog.String("fingerprint", string(fp)))

	result, ok, err := c.cache.Get(ctx, fp)
	if err != nil {
		return nil, infrastructure("cache lookup", err)
	}
	if ok {
		log.InfoContext(ctx, "Cache hit")
		return &Outcome{Cached: true, Result: result, Fingerprint: fp}, nil
	}

	jobID := c.newID()

	if c.inflight != nil {
		owner, claimed, err := c.inflight.Claim(ctx, fp, jobID, c.config.InflightTTL)
		if err != nil {
			return nil, infrastructure("inflight claim", err)
		}
		if !claimed {
			log.InfoContext(ctx, "Joined in-flight job", slog.String("job_id", owner))
			return &Outcome{JobID: owner, Fingerprint: fp}, nil
		}
	}

	if err := c.tracker.Create(ctx, jobID, fp); err != nil {
		c.releaseClaim(ctx, fp, jobID)
		return nil, infrastructure("status create", err)
	}

	_, err = c.broker.Enqueue(ctx, domain.Job{
		ID:          jobID,
		Fingerprint: fp,
		Payload:     data,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		if markErr := c.tracker.MarkFailure(ctx, jobID, "failed to enqueue job"); markErr != nil {
			log.ErrorContext(ctx, "Failed to mark unqueued job as failed",
				slog.String("job_id", jobID),
				slog.String("error", markErr.Error()),
			)
		}
		c.releaseClaim(ctx, fp, jobID)
		return nil, infrastructure("enqueue", err)
	}

	log.InfoContext(ctx, "Job queued",
		slog.String("job_id", jobID),
		slog.Int("size", len(data)),
	)

	return &Outcome{JobID: jobID, Fingerprint: fp}, nil
}

func (c *Coordinator) checkContentType(data []byte) error {
	if len(c.config.AllowedMIMETypes) == 0 {
		return nil
	}

	mime := mimetype.Detect(data)
	for _, allowed := range c.config.AllowedMIMETypes {
		if mime.Is(allowed) {
			return nil
		}
	}
	return domain.NewInputError("unsupported content type %s", mime.String())
}

func (c *Coordinator) releaseClaim(ctx context.Context, fp domain.Fingerprint, jobID string) {
	if c.inflight == nil {
		return
	}
	if err := c.inflight.Release(ctx, fp, jobID); err != nil {
		c.logger.WarnContext(ctx, "Failed to release in-flight claim",
			slog.String("fingerprint", string(fp)),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the lifecycle record of a job
func (c *Coordinator) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	s, err := c.tracker.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, infrastructure("status get", err)
	}
	return s, nil
}

// List pages through jobs when the tracker supports it
func (c *Coordinator) List(ctx context.Context, filter status.JobFilter) ([]domain.JobStatus, error) {
	lister, ok := c.tracker.(status.Lister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	jobs, err := lister.List(ctx, filter)
	if err != nil {
		return nil, infrastructure("status list", err)
	}
	return jobs, nil
}

// infrastructure marks err as an InfrastructureError unless it already is one
func infrastructure(op string, err error) error {
	if domain.IsInfrastructure(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.NewInfrastructureError(op, err)
}
