package status

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres keeps job records in the analysis_jobs table
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a PostgreSQL backed tracker
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

type jobRow struct {
	JobID        string    `db:"job_id"`
	Fingerprint  string    `db:"fingerprint"`
	Status       string    `db:"status"`
	Result       []byte    `db:"result"`
	ErrorMessage string    `db:"error_message"`
	Attempts     int       `db:"attempts"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *jobRow) toDomain() domain.JobStatus {
	s := domain.JobStatus{
		JobID:       r.JobID,
		Fingerprint: domain.Fingerprint(r.Fingerprint),
		State:       domain.State(r.Status),
		Error:       r.ErrorMessage,
		Attempts:    r.Attempts,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Result) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.Result); err == nil {
			s.Result = buf.Bytes()
		} else {
			s.Result = r.Result
		}
	}
	return s
}

const jobColumns = `job_id, fingerprint, status, result, error_message, attempts, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, jobID string, fp domain.Fingerprint) error {
	query := `
		INSERT INTO analysis_jobs (job_id, fingerprint, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (job_id) DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query, jobID, string(fp), domain.JobStatusPending)
	if err != nil {
		return domain.NewInfrastructureError("status create", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.NewInfrastructureError("status create", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, jobID)
	}

	return nil
}

func (p *Postgres) MarkRunning(ctx context.Context, jobID string, attempt int) error {
	return p.transition(ctx, jobID, domain.JobStatusRunning, "attempts = $4", attempt)
}

func (p *Postgres) MarkSuccess(ctx context.Context, jobID string, result json.RawMessage) error {
	return p.transition(ctx, jobID, domain.JobStatusSuccess,
		"result = $4, error_message = '', completed_at = NOW()", string(result))
}

func (p *Postgres) MarkFailure(ctx context.Context, jobID string, errMsg string) error {
	return p.transition(ctx, jobID, domain.JobStatusFailure,
		"error_message = $4, completed_at = NOW()", errMsg)
}

// transition applies an update only while the row is in a state that may move to `to`
func (p *Postgres) transition(ctx context.Context, jobID string, to domain.State, set string, value any) error {
	from := make([]string, 0, 2)
	for _, s := range domain.SourcesOf(to) {
		from = append(from, string(s))
	}

	query := fmt.Sprintf(`
		UPDATE analysis_jobs
		SET status = $2,
		    %s,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = ANY($3)
		RETURNING job_id
	`, set)

	var updated string
	err := p.db.QueryRowContext(ctx, query, jobID, to, pq.Array(from), value).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p.transitionError(ctx, jobID, to)
		}
		return domain.NewInfrastructureError("status update", err)
	}

	p.logger.Debug("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
	)

	return nil
}

func (p *Postgres) transitionError(ctx context.Context, jobID string, to domain.State) error {
	var current string
	err := p.db.GetContext(ctx, &current, `SELECT status FROM analysis_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return domain.NewInfrastructureError("status update", err)
	}

	p.logger.Warn("Rejected job status transition",
		slog.String("job_id", jobID),
		slog.String("from", current),
		slog.String("to", string(to)),
	)

	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, to)
}

func (p *Postgres) Get(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE job_id = $1`

	var row jobRow
	err := p.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, domain.NewInfrastructureError("status get", err)
	}

	s := row.toDomain()
	return &s, nil
}

func (p *Postgres) List(ctx context.Context, filter JobFilter) ([]domain.JobStatus, error) {
	query := `
        SELECT ` + jobColumns + `
        FROM analysis_jobs
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.NewInfrastructureError("status list", err)
	}

	jobs := make([]domain.JobStatus, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}
