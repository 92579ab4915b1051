// Package worker implements the upsert worker pool: a bounded set of
// consumers that drain the work queue, reconcile each record against the
// job store, and report every terminal outcome to the import run ledger.
package worker

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"
	"github.com/jobradar/importer/internal/importer/domain"
	"github.com/jobradar/importer/shared/rabbitmq"
)

// JobStore reconciles one record atomically; created reports whether the
// record was inserted rather than updated.
type JobStore interface {
	Upsert(ctx context.Context, job *domain.JobRecord) (bool, error)
}

// Ledger receives per-unit outcomes for run accounting.
type Ledger interface {
	RecordOutcome(ctx context.Context, runID string, outcome domain.Outcome) error
	RecordFailure(ctx context.Context, runID, jobKey, reason, detail string) error
}

// RetryQueue republishes failed units for a later attempt or moves them to
// the terminal failed queue.
type RetryQueue interface {
	PublishRetry(ctx context.Context, body []byte, nextAttempt int) error
	PublishDead(ctx context.Context, body []byte) error
}

// Config holds worker configuration.
type Config struct {
	Logger        *slog.Logger
	Store         JobStore
	Ledger        Ledger
	Queue         RetryQueue
	RabbitClient  *rabbitmq.Client
	Concurrency   int
	PrefetchCount int
	MaxAttempts   int
}

// unitMessage is one dequeued unit together with its delivery state.
type unitMessage struct {
	unit     domain.QueueUnit
	attempt  int
	delivery amqp.Delivery
}

// Worker represents the upsert worker pool.
type Worker struct {
	logger        *slog.Logger
	store         JobStore
	ledger        Ledger
	queue         RetryQueue
	rabbitClient  *rabbitmq.Client
	concurrency   int
	prefetchCount int
	maxAttempts   int
	workerID      string
	jobsChan      chan *unitMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance.
func NewWorker(cfg *Config) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		ledger:        cfg.Ledger,
		queue:         cfg.Queue,
		rabbitClient:  cfg.RabbitClient,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		maxAttempts:   maxAttempts,
		workerID:      "upsert-worker-" + uuid.New().String()[:8],
		jobsChan:      make(chan *unitMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start subscribes to the work queue, spawns the pool, and dispatches
// deliveries until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting upsert worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	// Blocks until shutdown or channel close.
	w.dispatch(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
