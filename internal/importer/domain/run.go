package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Import run status constants. Transitions are forward-only:
// pending -> processing -> completed/failed.
const (
	RunStatusPending    = "pending"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// FailureReason is one entry in a run's append-only failure list.
type FailureReason struct {
	JobKey string `json:"jobKey"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// FailureReasons is stored as a jsonb array on the run row.
type FailureReasons []FailureReason

// Value implements driver.Valuer for jsonb storage.
func (f FailureReasons) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failure reasons: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb storage.
func (f *FailureReasons) Scan(src interface{}) error {
	if src == nil {
		*f = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for failure reasons: %T", src)
	}

	return json.Unmarshal(data, f)
}

// ImportRun is the audit record for one feed's processing cycle.
type ImportRun struct {
	RunID          string         `db:"run_id" json:"runId"`
	FileName       string         `db:"file_name" json:"fileName"`
	StartedAt      time.Time      `db:"started_at" json:"startedAt"`
	TotalFetched   int            `db:"total_fetched" json:"totalFetched"`
	TotalImported  int            `db:"total_imported" json:"totalImported"`
	NewJobs        int            `db:"new_jobs" json:"newJobs"`
	UpdatedJobs    int            `db:"updated_jobs" json:"updatedJobs"`
	FailedJobs     int            `db:"failed_jobs" json:"failedJobs"`
	ProcessedJobs  int            `db:"processed_jobs" json:"processedJobs"`
	FailureReasons FailureReasons `db:"failure_reasons" json:"failureReasons"`
	Status         string         `db:"status" json:"status"`
	DurationMs     *int64         `db:"duration_ms" json:"durationMs,omitempty"`
	ErrorMessage   string         `db:"error_message" json:"errorMessage,omitempty"`
}

// ImportStats aggregates run counters across all runs ever recorded.
type ImportStats struct {
	TotalImports  int64 `db:"total_imports" json:"totalImports"`
	TotalFetched  int64 `db:"total_fetched" json:"totalFetched"`
	TotalImported int64 `db:"total_imported" json:"totalImported"`
	TotalNew      int64 `db:"total_new" json:"totalNew"`
	TotalUpdated  int64 `db:"total_updated" json:"totalUpdated"`
	TotalFailed   int64 `db:"total_failed" json:"totalFailed"`
}
