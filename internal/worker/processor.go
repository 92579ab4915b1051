package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobradar/importer/internal/importer/domain"
)

// handleUnit drives one delivery through reconciliation and settles it:
// ACK on success, retry republish while attempts remain, dead-letter plus
// a ledger failure entry once the attempt ceiling is reached.
func (w *Worker) handleUnit(ctx context.Context, msg *unitMessage) {
	err := w.reconcile(ctx, &msg.unit)
	if err == nil {
		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK unit",
				slog.String("external_id", msg.unit.Job.ExternalID),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	if msg.attempt < w.maxAttempts {
		w.logger.Warn("Unit failed, scheduling retry",
			slog.String("external_id", msg.unit.Job.ExternalID),
			slog.String("run_id", msg.unit.RunID),
			slog.Int("attempt", msg.attempt),
			slog.Int("max_attempts", w.maxAttempts),
			slog.Any("error", err),
		)

		if pubErr := w.queue.PublishRetry(ctx, msg.delivery.Body, msg.attempt+1); pubErr != nil {
			w.logger.Error("Failed to publish retry, requeueing delivery",
				slog.Any("error", pubErr),
			)
			// Broker redelivery is the fallback when the retry publish
			// itself fails.
			if nackErr := msg.delivery.Nack(false, true); nackErr != nil {
				w.logger.Error("Failed to NACK unit",
					slog.Any("error", nackErr),
				)
			}
			return
		}

		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK retried unit",
				slog.Any("error", ackErr),
			)
		}
		return
	}

	// Terminal failure: park the unit on the failed queue first, then record
	// it in the ledger. The ledger write only happens once the unit is
	// terminally parked, so a requeue before that point cannot double-count
	// the failure. A requeue after a successful dead-letter may duplicate
	// the parked copy, never the ledger entry.
	w.logger.Error("Unit exhausted retry attempts, dead-lettering",
		slog.String("external_id", msg.unit.Job.ExternalID),
		slog.String("run_id", msg.unit.RunID),
		slog.Int("attempt", msg.attempt),
		slog.Any("error", err),
	)

	jobKey := msg.unit.Job.ExternalID
	if jobKey == "" {
		jobKey = "unknown"
	}

	reason := "Import failed"
	if errors.Is(err, domain.ErrMissingFields) {
		reason = "Validation failed"
	}

	if deadErr := w.queue.PublishDead(ctx, msg.delivery.Body); deadErr != nil {
		w.logger.Error("Failed to dead-letter unit, requeueing delivery",
			slog.Any("error", deadErr),
		)
		if nackErr := msg.delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK unit",
				slog.Any("error", nackErr),
			)
		}
		return
	}

	if ledgerErr := w.ledger.RecordFailure(ctx, msg.unit.RunID, jobKey, reason, err.Error()); ledgerErr != nil {
		w.logger.Error("Failed to record unit failure, requeueing delivery",
			slog.String("run_id", msg.unit.RunID),
			slog.Any("error", ledgerErr),
		)
		if nackErr := msg.delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK unit",
				slog.Any("error", nackErr),
			)
		}
		return
	}

	if ackErr := msg.delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK dead-lettered unit",
			slog.Any("error", ackErr),
		)
	}
}

// reconcile validates the record, applies the atomic upsert, and reports
// the classification to the ledger. Any returned error makes the delivery
// subject to the retry policy.
func (w *Worker) reconcile(ctx context.Context, unit *domain.QueueUnit) error {
	job := &unit.Job

	if job.ExternalID == "" || job.Title == "" {
		return domain.ErrMissingFields
	}

	created, err := w.store.Upsert(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to import job %s: %w", job.ExternalID, err)
	}

	outcome := domain.OutcomeUpdated
	if created {
		outcome = domain.OutcomeNew
	}

	// The upsert is idempotent, so a redelivery after a failed outcome
	// report re-applies it and classifies as updated.
	if err := w.ledger.RecordOutcome(ctx, unit.RunID, outcome); err != nil {
		return fmt.Errorf("failed to record outcome for run %s: %w", unit.RunID, err)
	}

	w.logger.Info("Unit reconciled",
		slog.String("external_id", job.ExternalID),
		slog.String("source_url", job.SourceURL),
		slog.String("outcome", string(outcome)),
	)

	return nil
}
