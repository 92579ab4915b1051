package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobradar/importer/internal/api/dto"
	"github.com/jobradar/importer/internal/importer/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// TriggerImport handles POST /api/import/trigger
// Runs fetch+enqueue synchronously; record processing stays asynchronous.
func (h *ImportHandler) TriggerImport(c *gin.Context) {
	h.logger.Info("TriggerImport called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	results, err := h.pipeline.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrImportInProgress) {
			c.JSON(http.StatusConflict, dto.ErrorResponse{
				Success: false,
				Error:   "import already in progress",
			})
			return
		}

		h.logger.Error("Failed to trigger import", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.TriggerResponse{
		Success: true,
		Message: "Import triggered successfully",
		Results: results,
	})
}

// GetImportHistory handles GET /api/import/history
// Paginated run list, newest first, optional substring filter on the
// source identifier.
func (h *ImportHandler) GetImportHistory(c *gin.Context) {
	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Success: false,
			Error:   "Invalid query parameters",
		})
		return
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = defaultHistoryLimit
	}
	if req.Limit > maxHistoryLimit {
		req.Limit = maxHistoryLimit
	}

	runs, total, err := h.ledger.ListRuns(c.Request.Context(), req.Page, req.Limit, req.FileName)
	if err != nil {
		h.logger.Error("Failed to list import runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Success: false,
			Error:   "Failed to fetch import history",
		})
		return
	}

	if runs == nil {
		runs = []domain.ImportRun{}
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Success: true,
		Data:    runs,
		Pagination: dto.Pagination{
			Page:  req.Page,
			Limit: req.Limit,
			Total: total,
			Pages: (total + req.Limit - 1) / req.Limit,
		},
	})
}

// GetImportStats handles GET /api/import/stats
// Aggregate sums of all run counters across all runs ever recorded.
func (h *ImportHandler) GetImportStats(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to aggregate import stats", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Success: false,
			Error:   "Failed to fetch import stats",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Success: true,
		Stats:   *stats,
	})
}
