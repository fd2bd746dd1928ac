package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/docpipe/internal/config"
	"github.com/raphaelgruber/docpipe/internal/db"
	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/llm"
	"github.com/raphaelgruber/docpipe/internal/metrics"
	"github.com/raphaelgruber/docpipe/internal/models"
)

// Sink receives finished chunk batches from the executor. A batch either
// lands completely or not at all; the executor counts only landed batches
// into chunk_count.
type Sink interface {
	// Insert embeds and stores one batch. startPosition is the position
	// of the first chunk within the job's output sequence.
	Insert(ctx context.Context, col *models.Collection, jobID string, batch []ingest.Chunk, startPosition int) error
}

// SinkError marks an insertion-phase failure. Jobs failing here look like
// any other failure except for error_details.stage.
type SinkError struct {
	err error
}

func (e *SinkError) Error() string { return e.err.Error() }
func (e *SinkError) Unwrap() error { return e.err }

// SurrealSink embeds chunk batches with the collection's model and bulk
// inserts them into the chunk table. Embedders are built lazily per
// collection and reused across jobs.
type SurrealSink struct {
	db      *db.Client
	cfg     config.Config
	metrics *metrics.Collector

	mu        sync.Mutex
	embedders map[string]*llm.Embedder
}

// NewSurrealSink creates the production sink.
func NewSurrealSink(dbClient *db.Client, cfg config.Config, collector *metrics.Collector) *SurrealSink {
	return &SurrealSink{
		db:        dbClient,
		cfg:       cfg,
		metrics:   collector,
		embedders: make(map[string]*llm.Embedder),
	}
}

func (s *SurrealSink) Insert(ctx context.Context, col *models.Collection, jobID string, batch []ingest.Chunk, startPosition int) error {
	if len(batch) == 0 {
		return nil
	}

	embedder, err := s.embedderFor(col)
	if err != nil {
		return &SinkError{err: err}
	}

	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	start := time.Now()
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpEmbedding, time.Since(start))
	}
	if err != nil {
		return &SinkError{err: fmt.Errorf("embed batch: %w", err)}
	}

	collectionID := models.MustRecordIDString(col.ID)
	rows := make([]models.ChunkInput, len(batch))
	for i, chunk := range batch {
		rows[i] = models.ChunkInput{
			JobID:        jobID,
			CollectionID: collectionID,
			Content:      chunk.Content,
			Position:     startPosition + i,
			Metadata:     chunk.Metadata,
			Embedding:    vectors[i],
		}
	}

	start = time.Now()
	err = s.db.CreateChunks(ctx, rows)
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpSinkInsert, time.Since(start))
	}
	if err != nil {
		return &SinkError{err: fmt.Errorf("insert chunks: %w", err)}
	}

	slog.Debug("inserted chunk batch", "job_id", jobID, "count", len(batch), "start_position", startPosition)
	return nil
}

func (s *SurrealSink) embedderFor(col *models.Collection) (*llm.Embedder, error) {
	key := models.MustRecordIDString(col.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.embedders[key]; ok {
		return e, nil
	}
	e, err := llm.NewEmbedder(s.cfg, col)
	if err != nil {
		return nil, fmt.Errorf("create embedder for collection %s: %w", key, err)
	}
	s.embedders[key] = e
	return e, nil
}
