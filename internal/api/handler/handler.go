package handler

import (
	"context"
	"log/slog"

	"github.com/jobradar/importer/internal/importer"
	"github.com/jobradar/importer/internal/importer/domain"
)

// Trigger runs one fetch-and-enqueue cycle.
type Trigger interface {
	Run(ctx context.Context) ([]importer.FeedResult, error)
}

// RunReader is the read side of the import run ledger.
type RunReader interface {
	ListRuns(ctx context.Context, page, limit int, fileName string) ([]domain.ImportRun, int, error)
	Stats(ctx context.Context) (*domain.ImportStats, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Pipeline Trigger
	Ledger   RunReader
}

// ImportHandler handles import-related HTTP requests
type ImportHandler struct {
	logger   *slog.Logger
	pipeline Trigger
	ledger   RunReader
}

// NewImportHandler creates a new ImportHandler instance
func NewImportHandler(deps *Dependencies) *ImportHandler {
	return &ImportHandler{
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
		ledger:   deps.Ledger,
	}
}
