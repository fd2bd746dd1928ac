package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk represents one searchable piece produced by an ingestion strategy.
type Chunk struct {
	ID surrealmodels.RecordID `json:"id"`

	// Provenance
	Job        string `json:"job"`
	Collection string `json:"collection"`

	// Content
	Content  string         `json:"content"`
	Position int            `json:"position"` // order within the job
	Metadata map[string]any `json:"metadata,omitempty"`

	// Search
	Embedding []float32 `json:"embedding"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
}

// ChunkInput is the input structure for inserting chunks.
type ChunkInput struct {
	JobID        string         `json:"job_id"`
	CollectionID string         `json:"collection_id"`
	Content      string         `json:"content"`
	Position     int            `json:"position"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embedding    []float32      `json:"embedding"`
}
