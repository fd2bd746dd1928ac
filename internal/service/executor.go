package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/metrics"
	"github.com/raphaelgruber/docpipe/internal/models"
)

// CollectionResolver looks up the owning collection of a job. Backed by
// the database in production; tests substitute a map.
type CollectionResolver func(ctx context.Context, collectionID string) (*models.Collection, error)

// Executor runs ingestion jobs on a bounded worker pool. One strategy
// runs per worker; strategies may fan out internally, the pool caps how
// many jobs stress the sink and any external models at once.
type Executor struct {
	pool      *ants.Pool
	manager   *JobManager
	registry  *ingest.Registry
	sink      Sink
	resolve   CollectionResolver
	batchSize int
	metrics   *metrics.Collector
}

// NewExecutor creates an executor with the given worker budget.
func NewExecutor(workers, batchSize int, manager *JobManager, registry *ingest.Registry, sink Sink, resolve CollectionResolver, collector *metrics.Collector) (*Executor, error) {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Executor{
		pool:      pool,
		manager:   manager,
		registry:  registry,
		sink:      sink,
		resolve:   resolve,
		batchSize: batchSize,
		metrics:   collector,
	}, nil
}

// Enqueue hands a PENDING job to the pool. Returns immediately; the job
// waits in line when all workers are busy.
func (e *Executor) Enqueue(job *Job) {
	go func() {
		if err := e.pool.Submit(func() {
			e.runJob(context.Background(), job)
		}); err != nil {
			slog.Error("failed to submit job to pool", "job_id", job.ID, "error", err)
		}
	}()
}

// Shutdown stops accepting work and releases the pool.
func (e *Executor) Shutdown() {
	e.pool.Release()
}

// runJob executes one job end to end: claim it, run the strategy, stream
// chunk batches to the sink, finalize.
func (e *Executor) runJob(ctx context.Context, job *Job) {
	id := job.ID

	defer func() {
		if r := recover(); r != nil {
			slog.Error("job worker panicked", "job_id", id, "panic", r)
			details := models.ErrorDetails{Stage: models.StagePanic}
			if err := e.manager.Transition(ctx, id, models.JobStatusFailed,
				WithError(fmt.Sprintf("internal panic: %v", r), &details)); err != nil {
				slog.Error("failed to finalize panicked job", "job_id", id, "error", err)
			}
		}
	}()

	// Exactly one worker wins this edge; a job cancelled while queued
	// loses it and is simply skipped.
	if err := e.manager.Transition(ctx, id, models.JobStatusProcessing); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			slog.Info("job no longer runnable, skipping", "job_id", id, "status", invalid.From)
		} else {
			slog.Error("failed to claim job", "job_id", id, "error", err)
		}
		return
	}

	snap := job.Snapshot()

	strategy, err := e.registry.Get(snap.Strategy)
	if err != nil {
		e.fail(ctx, id, 0, fmt.Sprintf("resolve strategy: %v", err), &models.ErrorDetails{Stage: "setup"})
		return
	}

	col, err := e.resolve(ctx, snap.Collection)
	if err != nil {
		e.fail(ctx, id, 0, fmt.Sprintf("resolve collection %s: %v", snap.Collection, err), &models.ErrorDetails{Stage: "setup"})
		return
	}

	rep := ingest.NewReporter(
		func(current, total int, message string) {
			e.manager.UpdateProgress(ctx, id, current, total, message)
		},
		func() bool {
			return e.manager.CancelRequested(id)
		},
	)

	var batch []ingest.Chunk
	inserted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.sink.Insert(ctx, col, id, batch, inserted); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]

		current, total := rep.Snapshot()
		rep.Report(current, total, fmt.Sprintf("inserted %d chunks", inserted))
		return nil
	}

	emit := func(chunk ingest.Chunk) error {
		if e.manager.CancelRequested(id) {
			return ingest.ErrCancelled
		}
		batch = append(batch, chunk)
		if len(batch) >= e.batchSize {
			return flush()
		}
		return nil
	}

	src := ingest.Source{
		Descriptor: snap.Source,
		Content:    snap.Content,
		Collection: col,
	}

	slog.Info("job started", "job_id", id, "strategy", snap.Strategy, "collection", snap.Collection)

	start := time.Now()
	runErr := strategy.Run(ctx, src, snap.Params, rep, emit)
	if e.metrics != nil {
		e.metrics.RecordTiming(metrics.OpStrategyRun, time.Since(start))
	}

	e.finalize(ctx, id, runErr, flush, &inserted)
}

// finalize maps the strategy outcome onto a terminal transition.
func (e *Executor) finalize(ctx context.Context, id string, runErr error, flush func() error, inserted *int) {
	var partial *ingest.PartialError
	var strategyErr *ingest.StrategyError
	var sinkErr *SinkError

	switch {
	case runErr == nil, errors.As(runErr, &partial):
		// Remaining chunks become the insertion stage's final batch. A
		// cancel observed here is past the last checkpoint; the job
		// still completes (documented race).
		if err := flush(); err != nil {
			e.failSink(ctx, id, *inserted, err)
			return
		}

		opts := []TransitionOption{
			WithChunkCount(*inserted),
			WithMessage(fmt.Sprintf("completed with %d chunks", *inserted)),
		}
		if partial != nil {
			details := partial.Details
			opts = append(opts,
				WithMessage(fmt.Sprintf("completed with %d chunks (%s)", *inserted, partial.Message)),
				WithError("", &details))
		}
		if err := e.manager.Transition(ctx, id, models.JobStatusCompleted, opts...); err != nil {
			slog.Error("failed to complete job", "job_id", id, "error", err)
			return
		}
		slog.Info("job completed", "job_id", id, "chunks", *inserted)

	case errors.Is(runErr, ingest.ErrCancelled), errors.Is(runErr, context.Canceled):
		if err := e.manager.Transition(ctx, id, models.JobStatusCancelled, WithChunkCount(*inserted)); err != nil {
			slog.Error("failed to cancel job", "job_id", id, "error", err)
			return
		}
		slog.Info("job cancelled", "job_id", id, "chunks_inserted", *inserted)

	case errors.As(runErr, &sinkErr):
		e.failSink(ctx, id, *inserted, runErr)

	case errors.As(runErr, &strategyErr):
		details := strategyErr.Details
		e.fail(ctx, id, *inserted, strategyErr.Message, &details)

	default:
		e.fail(ctx, id, *inserted, runErr.Error(), &models.ErrorDetails{Stage: "strategy"})
	}
}

func (e *Executor) fail(ctx context.Context, id string, inserted int, message string, details *models.ErrorDetails) {
	if err := e.manager.Transition(ctx, id, models.JobStatusFailed,
		WithError(message, details), WithChunkCount(inserted)); err != nil {
		slog.Error("failed to fail job", "job_id", id, "error", err)
		return
	}
	slog.Error("job failed", "job_id", id, "stage", details.Stage, "error", message)
}

func (e *Executor) failSink(ctx context.Context, id string, inserted int, err error) {
	e.fail(ctx, id, inserted, err.Error(), &models.ErrorDetails{Stage: models.StageInsert})
}
