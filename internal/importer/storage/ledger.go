package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobradar/importer/internal/importer/domain"
	"github.com/jobradar/importer/shared/postgresql"
)

// Ledger tracks one import run per feed per fetch cycle. All counter
// mutations are single atomic UPDATE statements because many workers
// report into the same run concurrently.
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLedger creates a Ledger on the shared connection pool.
func NewLedger(pg *postgresql.Client, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// OpenRun inserts a run in processing state and returns its id.
func (l *Ledger) OpenRun(ctx context.Context, sourceURL string, fetched int) (string, error) {
	runID := uuid.New().String()

	query := `
		INSERT INTO import_runs (
			run_id, file_name, started_at, total_fetched, status, failure_reasons
		) VALUES ($1, $2, NOW(), $3, $4, '[]'::jsonb)
	`

	if _, err := l.db.ExecContext(ctx, query, runID, sourceURL, fetched, domain.RunStatusProcessing); err != nil {
		return "", fmt.Errorf("failed to open import run: %w", err)
	}

	l.logger.Info("Import run opened",
		slog.String("run_id", runID),
		slog.String("source_url", sourceURL),
		slog.Int("total_fetched", fetched),
	)

	return runID, nil
}

// completionClause flips the run to completed and stamps its duration in
// the same statement that increments processed_jobs, so the terminal
// transition happens exactly once, on whichever worker processes the last
// unit.
const completionClause = `
			status = CASE
				WHEN processed_jobs + 1 >= total_fetched THEN 'completed'
				ELSE status
			END,
			duration_ms = CASE
				WHEN processed_jobs + 1 >= total_fetched
					THEN (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint
				ELSE duration_ms
			END`

// RecordOutcome atomically counts one successful reconciliation.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, outcome domain.Outcome) error {
	column := "updated_jobs"
	if outcome == domain.OutcomeNew {
		column = "new_jobs"
	}

	query := fmt.Sprintf(`
		UPDATE import_runs SET
			%s = %s + 1,
			total_imported = total_imported + 1,
			processed_jobs = processed_jobs + 1,
			%s
		WHERE run_id = $1
	`, column, column, completionClause)

	result, err := l.db.ExecContext(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return checkRunExists(result)
}

// RecordFailure atomically counts one terminal unit failure and appends
// its detail to the run's failure list.
func (l *Ledger) RecordFailure(ctx context.Context, runID, jobKey, reason, detail string) error {
	entry, err := json.Marshal([]domain.FailureReason{{
		JobKey: jobKey,
		Reason: reason,
		Error:  detail,
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal failure reason: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE import_runs SET
			failed_jobs = failed_jobs + 1,
			processed_jobs = processed_jobs + 1,
			failure_reasons = failure_reasons || $2::jsonb,
			%s
		WHERE run_id = $1
	`, completionClause)

	result, err := l.db.ExecContext(ctx, query, runID, entry)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	return checkRunExists(result)
}

// CloseRunIfEmpty completes a run that fetched zero records.
func (l *Ledger) CloseRunIfEmpty(ctx context.Context, runID string, duration time.Duration) error {
	query := `
		UPDATE import_runs SET
			status = $2,
			duration_ms = $3
		WHERE run_id = $1 AND status = $4 AND total_fetched = 0
	`

	if _, err := l.db.ExecContext(ctx, query, runID, domain.RunStatusCompleted, duration.Milliseconds(), domain.RunStatusProcessing); err != nil {
		return fmt.Errorf("failed to close empty run: %w", err)
	}

	return nil
}

// FailRun marks a run failed when its batch could not be enqueued.
func (l *Ledger) FailRun(ctx context.Context, runID, message string) error {
	query := `
		UPDATE import_runs SET
			status = $2,
			error_message = $3,
			duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint
		WHERE run_id = $1
	`

	if _, err := l.db.ExecContext(ctx, query, runID, domain.RunStatusFailed, message); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}

	return nil
}

// ListRuns returns one page of runs, newest first, with an optional
// substring filter on the source identifier. The second return value is
// the total matching count for pagination.
func (l *Ledger) ListRuns(ctx context.Context, page, limit int, fileName string) ([]domain.ImportRun, int, error) {
	where := ""
	args := []interface{}{}
	if fileName != "" {
		where = " WHERE file_name ILIKE $1"
		args = append(args, "%"+fileName+"%")
	}

	var total int
	if err := l.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM import_runs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count import runs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT run_id, file_name, started_at, total_fetched, total_imported,
			new_jobs, updated_jobs, failed_jobs, processed_jobs,
			failure_reasons, status, duration_ms, COALESCE(error_message, '') AS error_message
		FROM import_runs
		%s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	args = append(args, limit, (page-1)*limit)

	var runs []domain.ImportRun
	if err := l.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list import runs: %w", err)
	}

	return runs, total, nil
}

// Stats aggregates run counters across all runs ever recorded.
func (l *Ledger) Stats(ctx context.Context) (*domain.ImportStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_imports,
			COALESCE(SUM(total_fetched), 0) AS total_fetched,
			COALESCE(SUM(total_imported), 0) AS total_imported,
			COALESCE(SUM(new_jobs), 0) AS total_new,
			COALESCE(SUM(updated_jobs), 0) AS total_updated,
			COALESCE(SUM(failed_jobs), 0) AS total_failed
		FROM import_runs
	`

	var stats domain.ImportStats
	if err := l.db.GetContext(ctx, &stats, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ImportStats{}, nil
		}
		return nil, fmt.Errorf("failed to aggregate import stats: %w", err)
	}

	return &stats, nil
}

func checkRunExists(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}
