// Package llm provides embedding and captioning services using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/docpipe/internal/config"
	"github.com/raphaelgruber/docpipe/internal/models"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
}

// NewEmbedder creates an embedder for a collection's embedding settings.
// Credentials and host endpoints come from the config; vendor, model, and
// dimension come from the collection, falling back to the configured
// defaults when the collection leaves them empty.
func NewEmbedder(cfg config.Config, col *models.Collection) (*Embedder, error) {
	provider := cfg.EmbedProvider
	modelName := cfg.EmbedModel
	dimension := cfg.EmbedDimension
	if col != nil {
		if col.EmbeddingVendor != "" {
			provider = config.Provider(col.EmbeddingVendor)
		}
		if col.EmbeddingModel != "" {
			modelName = col.EmbeddingModel
		}
		if col.EmbeddingDimension > 0 {
			dimension = col.EmbeddingDimension
		}
	}

	var model embeddings.Embedder
	var err error

	switch provider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(modelName),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}

	return &Embedder{
		model:     model,
		dimension: dimension,
		modelName: modelName,
	}, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	slog.Debug("embedding batch", "model", e.modelName, "count", len(texts))

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed batch: %w", wrapFatalError(err))
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
	}

	slog.Debug("embedding complete", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds())
	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
