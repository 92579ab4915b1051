package dto

import (
	"github.com/jobradar/importer/internal/importer"
	"github.com/jobradar/importer/internal/importer/domain"
)

type HistoryRequest struct {
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
	FileName string `form:"fileName"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type HistoryResponse struct {
	Success    bool               `json:"success"`
	Data       []domain.ImportRun `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

type TriggerResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Results []importer.FeedResult `json:"results"`
}

type StatsResponse struct {
	Success bool               `json:"success"`
	Stats   domain.ImportStats `json:"stats"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
