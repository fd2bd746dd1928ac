// Package db provides SurrealDB query functions for ingestion job records.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// StatusCount represents a job status with its count.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// sortFields whitelists sortable columns for ListIngestJobs.
// Interpolating a caller-supplied column name into SurrealQL is not an
// option, so anything outside this map falls back to created_at.
var sortFields = map[string]string{
	"created_at":              "created_at",
	"processing_started_at":   "processing_started_at",
	"processing_completed_at": "processing_completed_at",
	"status":                  "status",
}

// CreateIngestJob persists a new job row in PENDING state.
func (c *Client) CreateIngestJob(ctx context.Context, id, collectionID, source, strategy string, params map[string]any) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("ingest_job", $id) SET
			collection = $collection,
			source = $source,
			status = 'pending',
			strategy = $strategy,
			strategy_params = $params
	`, map[string]any{
		"id":         id,
		"collection": collectionID,
		"source":     source,
		"strategy":   strategy,
		"params":     params,
	})
	if err != nil {
		return fmt.Errorf("create ingest job: %w", wrapQueryError(err))
	}
	return nil
}

// GetIngestJob retrieves a job by ID. Returns ErrNotFound if no row exists.
func (c *Client) GetIngestJob(ctx context.Context, id string) (*models.IngestJob, error) {
	results, err := query[[]models.IngestJob](ctx, c, `
		SELECT * FROM type::record("ingest_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get ingest job: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get ingest job %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ListIngestJobs returns jobs for a collection, optionally filtered by status,
// with pagination and sorting.
func (c *Client) ListIngestJobs(ctx context.Context, collectionID, status string, limit, offset int, sortBy, sortOrder string) ([]models.IngestJob, error) {
	field, ok := sortFields[sortBy]
	if !ok {
		field = "created_at"
	}
	order := "DESC"
	if sortOrder == "asc" {
		order = "ASC"
	}

	statusClause := ""
	vars := map[string]any{
		"collection": collectionID,
		"limit":      limit,
		"offset":     offset,
	}
	if status != "" {
		statusClause = "AND status = $status"
		vars["status"] = status
	}

	sql := fmt.Sprintf(`
		SELECT * FROM ingest_job
		WHERE collection = $collection %s
		ORDER BY %s %s
		LIMIT $limit START $offset
	`, statusClause, field, order)

	results, err := query[[]models.IngestJob](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list ingest jobs: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.IngestJob{}, nil
}

// SetJobProcessing marks a job as picked up by the executor.
func (c *Client) SetJobProcessing(ctx context.Context, id string) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = 'processing',
			processing_started_at = time::now(),
			heartbeat_at = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("set job processing: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJobProgress persists a progress tick. The status guard and the
// math::max floor keep late or racing writes from corrupting progress on a
// job that has since left PROCESSING.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, current, total int, message string) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			progress_current = math::max([progress_current, $current]),
			progress_total = $total,
			progress_message = $message,
			heartbeat_at = time::now()
		WHERE status = 'processing'
	`, map[string]any{
		"id":      id,
		"current": current,
		"total":   total,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("update job progress: %w", wrapQueryError(err))
	}
	return nil
}

// CompleteJob finalizes a job as COMPLETED with its final chunk count.
func (c *Client) CompleteJob(ctx context.Context, id string, chunkCount int, message string) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = 'completed',
			chunk_count = $chunks,
			progress_message = $message,
			processing_completed_at = time::now()
	`, map[string]any{"id": id, "chunks": chunkCount, "message": message})
	if err != nil {
		return fmt.Errorf("complete job: %w", wrapQueryError(err))
	}
	return nil
}

// FailJob finalizes a job as FAILED with error message and structured details.
func (c *Client) FailJob(ctx context.Context, id, message string, details map[string]any) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = 'failed',
			error_message = $message,
			error_details = $details,
			processing_completed_at = time::now()
	`, map[string]any{"id": id, "message": message, "details": details})
	if err != nil {
		return fmt.Errorf("fail job: %w", wrapQueryError(err))
	}
	return nil
}

// SetJobErrorDetails records structured detail without touching status,
// used for partial-failure warnings on completed jobs.
func (c *Client) SetJobErrorDetails(ctx context.Context, id string, details map[string]any) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET error_details = $details
	`, map[string]any{"id": id, "details": details})
	if err != nil {
		return fmt.Errorf("set job error details: %w", wrapQueryError(err))
	}
	return nil
}

// CancelJob finalizes a job as CANCELLED. chunkCount reflects only the
// chunks actually inserted before the cancellation checkpoint.
func (c *Client) CancelJob(ctx context.Context, id string, chunkCount int) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = 'cancelled',
			chunk_count = $chunks,
			processing_completed_at = time::now()
	`, map[string]any{"id": id, "chunks": chunkCount})
	if err != nil {
		return fmt.Errorf("cancel job: %w", wrapQueryError(err))
	}
	return nil
}

// SetCancelRequested flags a PROCESSING job for cooperative cancellation.
func (c *Client) SetCancelRequested(ctx context.Context, id string) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET cancel_requested = true
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("set cancel requested: %w", wrapQueryError(err))
	}
	return nil
}

// RequeueJob resets a terminal job back to PENDING for retry. Error and
// progress fields are cleared; strategy params may be replaced.
func (c *Client) RequeueJob(ctx context.Context, id string, params map[string]any) error {
	_, err := query[any](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = 'pending',
			strategy_params = $params,
			progress_current = 0,
			progress_total = 0,
			progress_message = '',
			error_message = NONE,
			error_details = NONE,
			chunk_count = 0,
			cancel_requested = false,
			retried_count += 1,
			processing_started_at = NONE,
			processing_completed_at = NONE,
			heartbeat_at = NONE
	`, map[string]any{"id": id, "params": params})
	if err != nil {
		return fmt.Errorf("requeue job: %w", wrapQueryError(err))
	}
	return nil
}

// JobStatusCounts returns per-status job counts for a collection.
func (c *Client) JobStatusCounts(ctx context.Context, collectionID string) ([]StatusCount, error) {
	results, err := query[[]StatusCount](ctx, c, `
		SELECT status, count() AS count FROM ingest_job
		WHERE collection = $collection
		GROUP BY status
	`, map[string]any{"collection": collectionID})
	if err != nil {
		return nil, fmt.Errorf("job status counts: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []StatusCount{}, nil
}

// RecentFailures returns the most recent failed jobs for a collection.
func (c *Client) RecentFailures(ctx context.Context, collectionID string, limit int) ([]models.IngestJob, error) {
	results, err := query[[]models.IngestJob](ctx, c, `
		SELECT * FROM ingest_job
		WHERE collection = $collection AND status = 'failed'
		ORDER BY processing_completed_at DESC
		LIMIT $limit
	`, map[string]any{"collection": collectionID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.IngestJob{}, nil
}

// IncompleteJobs returns all jobs still in PENDING or PROCESSING, oldest
// first. Called on startup to re-enqueue pending work and sweep orphans.
func (c *Client) IncompleteJobs(ctx context.Context) ([]models.IngestJob, error) {
	results, err := query[[]models.IngestJob](ctx, c, `
		SELECT * FROM ingest_job
		WHERE status IN ['pending', 'processing']
		ORDER BY created_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("incomplete jobs: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.IngestJob{}, nil
}

// StaleProcessingJobs returns PROCESSING jobs whose last heartbeat is older
// than the cutoff. These are orphan candidates for the recovery sweep.
func (c *Client) StaleProcessingJobs(ctx context.Context, olderThan time.Duration) ([]models.IngestJob, error) {
	cutoff := time.Now().Add(-olderThan)
	results, err := query[[]models.IngestJob](ctx, c, `
		SELECT * FROM ingest_job
		WHERE status = 'processing'
			AND (heartbeat_at = NONE OR heartbeat_at < $cutoff)
	`, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("stale processing jobs: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.IngestJob{}, nil
}
