// Package importer orchestrates the fetch -> normalize -> enqueue half of
// the pipeline and its periodic trigger. The upsert half lives in
// internal/worker and is decoupled by the work queue.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobradar/importer/internal/importer/domain"
)

// Fetcher retrieves one feed's raw payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Normalizer extracts canonical records from a raw payload.
type Normalizer interface {
	Parse(payload []byte, sourceURL string) []domain.JobRecord
}

// RunLedger is the slice of the ledger the pipeline needs.
type RunLedger interface {
	OpenRun(ctx context.Context, sourceURL string, fetched int) (string, error)
	CloseRunIfEmpty(ctx context.Context, runID string, duration time.Duration) error
	FailRun(ctx context.Context, runID, message string) error
}

// Publisher enqueues record batches on the work queue.
type Publisher interface {
	PublishBulk(ctx context.Context, bodies [][]byte) error
}

// FeedResult is the per-feed outcome reported to the trigger caller.
type FeedResult struct {
	URL         string `json:"url"`
	Success     bool   `json:"success"`
	JobsQueued  int    `json:"jobsQueued"`
	ImportRunID string `json:"importRunId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Config holds the pipeline's dependencies and policy.
type Config struct {
	Logger           *slog.Logger
	Fetcher          Fetcher
	Parser           Normalizer
	Ledger           RunLedger
	Queue            Publisher
	Feeds            []string
	FetchConcurrency int
}

// Pipeline runs one full fetch-and-enqueue cycle over the configured
// feeds. All collaborators are explicit dependencies so tests can swap in
// fakes.
type Pipeline struct {
	logger           *slog.Logger
	fetcher          Fetcher
	parser           Normalizer
	ledger           RunLedger
	queue            Publisher
	feeds            []string
	fetchConcurrency int

	// running is the lease preventing overlapping invocations from the
	// cron trigger and the HTTP trigger.
	running sync.Mutex
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg *Config) *Pipeline {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	return &Pipeline{
		logger:           cfg.Logger,
		fetcher:          cfg.Fetcher,
		parser:           cfg.Parser,
		ledger:           cfg.Ledger,
		queue:            cfg.Queue,
		feeds:            cfg.Feeds,
		fetchConcurrency: concurrency,
	}
}

type fetchOutcome struct {
	records []domain.JobRecord
	err     error
}

// Run executes one cycle: fetch every feed with bounded concurrency, then
// per feed open a run and enqueue its records (or close the run
// immediately when empty). Per-feed failures are isolated; only an
// overlapping invocation aborts the cycle, with ErrImportInProgress.
func (p *Pipeline) Run(ctx context.Context) ([]FeedResult, error) {
	if !p.running.TryLock() {
		return nil, domain.ErrImportInProgress
	}
	defer p.running.Unlock()

	p.logger.Info("Import cycle started",
		slog.Int("feeds", len(p.feeds)),
	)

	outcomes := make([]fetchOutcome, len(p.feeds))

	var g errgroup.Group
	g.SetLimit(p.fetchConcurrency)
	for i, url := range p.feeds {
		i, url := i, url
		g.Go(func() error {
			payload, err := p.fetcher.Fetch(ctx, url)
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].records = p.parser.Parse(payload, url)
			return nil
		})
	}
	// Closures never return errors; failures live in outcomes.
	_ = g.Wait()

	results := make([]FeedResult, 0, len(p.feeds))
	for i, url := range p.feeds {
		results = append(results, p.processFeed(ctx, url, &outcomes[i]))
	}

	p.logger.Info("Import cycle complete",
		slog.Int("feeds", len(results)),
	)

	return results, nil
}

// processFeed opens a run for one fetched feed and enqueues its records.
func (p *Pipeline) processFeed(ctx context.Context, url string, outcome *fetchOutcome) FeedResult {
	if outcome.err != nil {
		p.logger.Error("Skipping feed due to fetch error",
			slog.String("url", url),
			slog.Any("error", outcome.err),
		)
		return FeedResult{URL: url, Success: false, Error: outcome.err.Error()}
	}

	records := outcome.records
	start := time.Now()

	runID, err := p.ledger.OpenRun(ctx, url, len(records))
	if err != nil {
		p.logger.Error("Failed to open import run",
			slog.String("url", url),
			slog.Any("error", err),
		)
		return FeedResult{URL: url, Success: false, Error: err.Error()}
	}

	if len(records) == 0 {
		if err := p.ledger.CloseRunIfEmpty(ctx, runID, time.Since(start)); err != nil {
			p.logger.Error("Failed to close empty run",
				slog.String("run_id", runID),
				slog.Any("error", err),
			)
		}
		return FeedResult{URL: url, Success: true, JobsQueued: 0, ImportRunID: runID}
	}

	bodies, err := marshalUnits(records, url, runID)
	if err != nil {
		_ = p.ledger.FailRun(ctx, runID, err.Error())
		return FeedResult{URL: url, Success: false, Error: err.Error()}
	}

	if err := p.queue.PublishBulk(ctx, bodies); err != nil {
		p.logger.Error("Failed to enqueue record batch",
			slog.String("url", url),
			slog.String("run_id", runID),
			slog.Any("error", err),
		)
		_ = p.ledger.FailRun(ctx, runID, err.Error())
		return FeedResult{URL: url, Success: false, Error: err.Error()}
	}

	p.logger.Info("Feed records enqueued",
		slog.String("url", url),
		slog.String("run_id", runID),
		slog.Int("jobs_queued", len(records)),
	)

	return FeedResult{URL: url, Success: true, JobsQueued: len(records), ImportRunID: runID}
}

func marshalUnits(records []domain.JobRecord, sourceURL, runID string) ([][]byte, error) {
	bodies := make([][]byte, 0, len(records))
	for i := range records {
		body, err := json.Marshal(domain.QueueUnit{
			Job:       records[i],
			SourceURL: sourceURL,
			RunID:     runID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue unit: %w", err)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}
