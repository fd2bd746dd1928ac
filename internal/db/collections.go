package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// GetCollection retrieves a collection by ID. Returns ErrNotFound if no
// row exists. The pipeline only ever reads collections; the owning
// platform writes them.
func (c *Client) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	results, err := query[[]models.Collection](ctx, c, `
		SELECT * FROM type::record("collection", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get collection %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// CreateCollection creates a collection row. Used by tests and seeding;
// production collections come from the surrounding platform.
func (c *Client) CreateCollection(ctx context.Context, id, name, vendor, model string, dimension int, captioning bool) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("collection", $id) SET
			name = $name,
			embedding_vendor = $vendor,
			embedding_model = $model,
			embedding_dimension = $dimension,
			captioning = $captioning
	`, map[string]any{
		"id":         id,
		"name":       name,
		"vendor":     vendor,
		"model":      model,
		"dimension":  dimension,
		"captioning": captioning,
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", wrapQueryError(err))
	}
	return nil
}
