// Package ingest provides the pluggable ingestion strategy contract and its
// reference implementations.
package ingest

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// ErrCancelled is returned by emit when a cooperative cancellation was
// observed. Strategies must stop producing chunks and return it unchanged.
var ErrCancelled = errors.New("ingestion cancelled")

// ValidationError indicates a bad submission: unknown strategy name or
// params that fail the strategy's own schema check. Surfaced synchronously
// at submission time, never stored on a job.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// StrategyError is a conversion/crawl/chunking failure. The executor captures
// it into the job's error_message/error_details; it never reaches the
// submitter as an exception.
type StrategyError struct {
	Message string
	Details models.ErrorDetails
}

func (e *StrategyError) Error() string {
	return e.Message
}

// NewStrategyError builds a StrategyError for the given stage.
func NewStrategyError(stage, message string) *StrategyError {
	return &StrategyError{
		Message: message,
		Details: models.ErrorDetails{Stage: stage},
	}
}

// PartialError reports per-item failures on an otherwise successful run
// (e.g. 8 of 10 URLs crawled). The executor finalizes the job as completed
// and records the item detail on error_details; it is a warning, not a
// failure.
type PartialError struct {
	Message string
	Details models.ErrorDetails
}

func (e *PartialError) Error() string {
	return e.Message
}
