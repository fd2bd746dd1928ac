package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Collection is the owning vector collection for ingestion jobs.
// The pipeline reads it and never writes it; creation and deletion
// belong to the surrounding platform.
type Collection struct {
	ID   surrealmodels.RecordID `json:"id"`
	Name string                 `json:"name"`

	// Embedding configuration consumed by the vector sink.
	EmbeddingVendor    string `json:"embedding_vendor"` // "ollama" or "openai"
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`

	// Captioning is the enrichment capability flag. Strategies that want
	// generated descriptions degrade to filename labels when it is false.
	Captioning bool `json:"captioning"`

	CreatedAt time.Time `json:"created_at"`
}
