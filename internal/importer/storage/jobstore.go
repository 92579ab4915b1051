// Package storage implements the persistent job store and the import run
// ledger on PostgreSQL.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobradar/importer/internal/importer/domain"
	"github.com/jobradar/importer/shared/postgresql"
)

// JobStore reconciles job records against their natural key
// (external_id, source_url).
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a JobStore on the shared connection pool.
func NewJobStore(pg *postgresql.Client, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Upsert reconciles one record in a single atomic conditional write.
// Two workers racing on the same key cannot both insert: the unique index
// on (external_id, source_url) arbitrates, and the loser takes the UPDATE
// arm. The xmax = 0 check on the returned row distinguishes an insert
// (true) from an update (false).
func (s *JobStore) Upsert(ctx context.Context, job *domain.JobRecord) (bool, error) {
	rawPayload, err := json.Marshal(job.RawPayload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	query := `
		INSERT INTO jobs (
			job_id, external_id, source_url, title, description, company,
			location, job_type, category, salary, apply_url, published_date,
			raw_payload, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $14
		)
		ON CONFLICT (external_id, source_url) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			job_type = EXCLUDED.job_type,
			category = EXCLUDED.category,
			salary = EXCLUDED.salary,
			apply_url = EXCLUDED.apply_url,
			published_date = EXCLUDED.published_date,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err = s.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		job.ExternalID,
		job.SourceURL,
		job.Title,
		job.Description,
		job.Company,
		job.Location,
		job.JobType,
		job.Category,
		job.Salary,
		job.ApplyURL,
		job.PublishedDate,
		rawPayload,
		time.Now(),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert job: %w", err)
	}

	s.logger.Debug("Job reconciled",
		slog.String("external_id", job.ExternalID),
		slog.String("source_url", job.SourceURL),
		slog.Bool("created", inserted),
	)

	return inserted, nil
}
