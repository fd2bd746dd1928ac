// Package models defines data structures for the docpipe ingestion pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
// FAILED and CANCELLED remain re-enterable via retry.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Error stages recorded in ErrorDetails. The pipeline distinguishes sink
// and orphan failures from strategy failures only by this field.
const (
	StageInsert   = "insert"
	StageOrphaned = "orphaned"
	StagePanic    = "panic"
)

// ErrorDetails carries structured failure context for diagnosis.
// Stage is always set on a failed job; the rest is strategy-specific.
type ErrorDetails struct {
	Stage string            `json:"stage"`
	Item  string            `json:"item,omitempty"`  // offending item (URL, file, ...)
	Items map[string]string `json:"items,omitempty"` // per-item failures for multi-item strategies
}

// AsMap converts the details to the flexible object stored on the job row.
func (d *ErrorDetails) AsMap() map[string]any {
	if d == nil {
		return nil
	}
	m := map[string]any{"stage": d.Stage}
	if d.Item != "" {
		m["item"] = d.Item
	}
	if len(d.Items) > 0 {
		items := make(map[string]any, len(d.Items))
		for k, v := range d.Items {
			items[k] = v
		}
		m["items_failed"] = items
	}
	return m
}

// IngestJob represents a persisted ingestion job row.
type IngestJob struct {
	ID             surrealmodels.RecordID `json:"id"`
	Collection     string                 `json:"collection"`
	Source         string                 `json:"source"` // original filename or URL, opaque to the executor
	Status         string                 `json:"status"`
	Strategy       string                 `json:"strategy"`
	StrategyParams map[string]any         `json:"strategy_params,omitempty"`

	ProgressCurrent int    `json:"progress_current"`
	ProgressTotal   int    `json:"progress_total"` // 0 until the strategy determines it
	ProgressMessage string `json:"progress_message,omitempty"`

	ErrorMessage *string        `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	ChunkCount      int  `json:"chunk_count"`
	CancelRequested bool `json:"cancel_requested"`
	RetriedCount    int  `json:"retried_count"`

	CreatedAt             time.Time  `json:"created_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	HeartbeatAt           *time.Time `json:"heartbeat_at,omitempty"`
}
