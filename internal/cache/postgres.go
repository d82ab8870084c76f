package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Postgres stores results in the analysis_results table
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a PostgreSQL backed cache
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, fp domain.Fingerprint) (json.RawMessage, bool, error) {
	query := `
		SELECT result
		FROM analysis_results
		WHERE fingerprint = $1
	`

	var value []byte
	err := p.db.GetContext(ctx, &value, query, string(fp))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, domain.NewInfrastructureError("cache get", err)
	}

	// jsonb renders with whitespace; hand back the compact form that was stored.
	data, err := compact(value)
	if err != nil {
		return nil, false, domain.NewInfrastructureError("cache get", err)
	}
	return json.RawMessage(data), true, nil
}

func (p *Postgres) Set(ctx context.Context, fp domain.Fingerprint, value json.RawMessage) error {
	data, err := compact(value)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analysis_results (fingerprint, result, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (fingerprint) DO UPDATE
		SET result = EXCLUDED.result,
		    updated_at = NOW()
	`

	if _, err := p.db.ExecContext(ctx, query, string(fp), string(data)); err != nil {
		return domain.NewInfrastructureError("cache set", err)
	}
	return nil
}
