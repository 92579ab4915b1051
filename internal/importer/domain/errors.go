package domain

import "errors"

var (
	// ErrImportInProgress is returned when a pipeline invocation overlaps a
	// running one. The caller should skip, not queue behind it.
	ErrImportInProgress = errors.New("import pipeline already running")

	// ErrMissingFields is returned when a record lacks its identity or title.
	ErrMissingFields = errors.New("missing required fields: externalId or title")

	// ErrRunNotFound is returned when a run id does not match any run.
	ErrRunNotFound = errors.New("import run not found")
)
