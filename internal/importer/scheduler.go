package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jobradar/importer/internal/importer/domain"
)

// Scheduler fires the pipeline on a cron expression. The on-demand HTTP
// trigger invokes the same Pipeline; its lease keeps the two from
// overlapping.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	logger   *slog.Logger
	spec     string
}

// NewScheduler creates a Scheduler with the given cron expression,
// e.g. "0 * * * *" for hourly.
func NewScheduler(pipeline *Pipeline, spec string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		logger:   logger,
		spec:     spec,
	}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule import: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.String("spec", s.spec),
	)

	return nil
}

// Stop stops the cron loop and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.logger.Info("Scheduled import cycle firing")

	results, err := s.pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrImportInProgress) {
			s.logger.Warn("Skipping scheduled cycle, import already running")
			return
		}
		s.logger.Error("Scheduled import cycle failed",
			slog.Any("error", err),
		)
		return
	}

	queued := 0
	failed := 0
	for _, r := range results {
		if r.Success {
			queued += r.JobsQueued
		} else {
			failed++
		}
	}

	s.logger.Info("Scheduled import cycle finished",
		slog.Int("feeds", len(results)),
		slog.Int("jobs_queued", queued),
		slog.Int("failed_feeds", failed),
	)
}
