package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// CreateChunks inserts a batch of chunks with their embeddings.
func (c *Client) CreateChunks(ctx context.Context, chunks []models.ChunkInput) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		rows = append(rows, map[string]any{
			"job":        ch.JobID,
			"collection": ch.CollectionID,
			"content":    ch.Content,
			"position":   ch.Position,
			"metadata":   ch.Metadata,
			"embedding":  ch.Embedding,
		})
	}

	_, err := query[any](ctx, c, `INSERT INTO chunk $rows`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("create chunks: %w", wrapQueryError(err))
	}
	return nil
}

// GetChunks returns all chunks produced by a job, in position order.
func (c *Client) GetChunks(ctx context.Context, jobID string) ([]models.Chunk, error) {
	results, err := query[[]models.Chunk](ctx, c, `
		SELECT * FROM chunk WHERE job = $job ORDER BY position ASC
	`, map[string]any{"job": jobID})
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []models.Chunk{}, nil
}

// DeleteChunksForJob removes all chunks a job previously inserted.
// Retry re-runs the whole job from scratch, so partial output from a
// failed or cancelled attempt is scrubbed before the next run.
func (c *Client) DeleteChunksForJob(ctx context.Context, jobID string) (int, error) {
	results, err := query[[]map[string]any](ctx, c, `
		DELETE chunk WHERE job = $job RETURN BEFORE
	`, map[string]any{"job": jobID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", wrapQueryError(err))
	}

	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}
