package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/models"
)

// recordingSink captures batches; failOn injects an insert failure.
type recordingSink struct {
	mu        sync.Mutex
	batches   [][]ingest.Chunk
	positions []int
	failOn    int // 1-based batch index, 0 never fails
}

func (s *recordingSink) Insert(ctx context.Context, col *models.Collection, jobID string, batch []ingest.Chunk, startPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		return &SinkError{err: errors.New("vector store unavailable")}
	}

	copied := make([]ingest.Chunk, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	s.positions = append(s.positions, startPosition)
	return nil
}

func (s *recordingSink) inserted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testResolver(ctx context.Context, collectionID string) (*models.Collection, error) {
	return &models.Collection{Name: collectionID}, nil
}

// runOne drives a job through the executor synchronously.
func runOne(t *testing.T, strategy *fakeStrategy, batchSize int, sink Sink) (*JobManager, *Job) {
	t.Helper()

	m := NewJobManager(nil, ingest.NewRegistry(strategy), time.Minute)
	exec, err := NewExecutor(1, batchSize, m, m.registry, sink, testResolver, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(exec.Shutdown)

	job, err := m.Create(context.Background(), "col", "doc.md", strategy.name, []byte("body"), ingest.Params{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec.runJob(context.Background(), job)
	return m, job
}

func emitN(n int) func(context.Context, ingest.Source, ingest.Params, *ingest.Reporter, ingest.EmitFunc) error {
	return func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
		rep.Report(0, n, "starting")
		for i := 0; i < n; i++ {
			if err := emit(ingest.Chunk{Content: fmt.Sprintf("chunk %d", i)}); err != nil {
				return err
			}
			rep.Report(i+1, n, fmt.Sprintf("produced %d", i+1))
		}
		return nil
	}
}

func TestExecutor_Completes(t *testing.T) {
	sink := &recordingSink{}
	strategy := &fakeStrategy{name: "document", run: emitN(5)}

	m, job := runOne(t, strategy, 2, sink)

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed (%s)", snap.Status, snap.ErrorMessage)
	}
	if snap.ChunkCount != 5 {
		t.Errorf("ChunkCount = %d, want 5", snap.ChunkCount)
	}
	if sink.inserted() != 5 {
		t.Errorf("sink got %d chunks, want 5", sink.inserted())
	}

	// Batches of 2 flush as they fill; the remainder lands at finalize
	if len(sink.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(sink.batches))
	}
	wantPositions := []int{0, 2, 4}
	for i, pos := range sink.positions {
		if pos != wantPositions[i] {
			t.Errorf("batch[%d] start position = %d, want %d", i, pos, wantPositions[i])
		}
	}
}

func TestExecutor_StrategyError(t *testing.T) {
	strategy := &fakeStrategy{
		name: "document",
		run: func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
			serr := ingest.NewStrategyError("convert", "unsupported format")
			serr.Details.Item = "doc.bin"
			return serr
		},
	}

	m, job := runOne(t, strategy, 2, &recordingSink{})

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.ErrorMessage != "unsupported format" {
		t.Errorf("ErrorMessage = %q", snap.ErrorMessage)
	}
	if snap.ErrorDetails == nil || snap.ErrorDetails.Stage != "convert" || snap.ErrorDetails.Item != "doc.bin" {
		t.Errorf("ErrorDetails = %+v", snap.ErrorDetails)
	}
}

func TestExecutor_PartialSuccess(t *testing.T) {
	sink := &recordingSink{}
	strategy := &fakeStrategy{
		name: "crawl",
		run: func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
			if err := emit(ingest.Chunk{Content: "good page"}); err != nil {
				return err
			}
			return &ingest.PartialError{
				Message: "1 of 2 URLs failed",
				Details: models.ErrorDetails{
					Stage: "crawl",
					Items: map[string]string{"https://example.com/404": "unexpected status 404"},
				},
			}
		},
	}

	m, job := runOne(t, strategy, 8, sink)

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, partial success must complete", snap.Status)
	}
	if snap.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", snap.ChunkCount)
	}
	if snap.ErrorDetails == nil || len(snap.ErrorDetails.Items) != 1 {
		t.Errorf("ErrorDetails = %+v, per-item failures must be recorded", snap.ErrorDetails)
	}
}

func TestExecutor_CancelMidRun(t *testing.T) {
	sink := &recordingSink{}

	var m *JobManager
	var id string
	strategy := &fakeStrategy{
		name: "document",
		run: func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
			for i := 0; i < 10; i++ {
				if err := emit(ingest.Chunk{Content: fmt.Sprintf("chunk %d", i)}); err != nil {
					return err
				}
				if i == 2 {
					// cancel arrives while the strategy is mid-run
					if err := m.RequestCancel(ctx, id); err != nil {
						t.Errorf("RequestCancel() error = %v", err)
					}
				}
			}
			return nil
		},
	}

	m = NewJobManager(nil, ingest.NewRegistry(strategy), time.Minute)
	exec, err := NewExecutor(1, 1, m, m.registry, sink, testResolver, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Shutdown()

	job, err := m.Create(context.Background(), "col", "doc.md", "document", nil, ingest.Params{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	id = job.ID

	exec.runJob(context.Background(), job)

	snap, _ := m.Get(context.Background(), id)
	if snap.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	// Chunks flushed before the checkpoint stay; batch size 1 means the
	// first three emits landed and the fourth hit the checkpoint.
	if snap.ChunkCount != sink.inserted() {
		t.Errorf("ChunkCount = %d, sink has %d", snap.ChunkCount, sink.inserted())
	}
	if sink.inserted() != 3 {
		t.Errorf("sink got %d chunks, want 3", sink.inserted())
	}
}

func TestExecutor_CancelledWhileQueued(t *testing.T) {
	sink := &recordingSink{}
	ran := false
	strategy := &fakeStrategy{
		name: "document",
		run: func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
			ran = true
			return nil
		},
	}

	m := NewJobManager(nil, ingest.NewRegistry(strategy), time.Minute)
	exec, err := NewExecutor(1, 2, m, m.registry, sink, testResolver, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Shutdown()

	job, _ := m.Create(context.Background(), "col", "doc.md", "document", nil, ingest.Params{})
	m.RequestCancel(context.Background(), job.ID)

	exec.runJob(context.Background(), job)

	if ran {
		t.Error("strategy ran for a job cancelled while queued")
	}
	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}

func TestExecutor_PanicFailsJob(t *testing.T) {
	strategy := &fakeStrategy{
		name: "document",
		run: func(ctx context.Context, src ingest.Source, params ingest.Params, rep *ingest.Reporter, emit ingest.EmitFunc) error {
			panic("nil map write")
		},
	}

	m, job := runOne(t, strategy, 2, &recordingSink{})

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.ErrorDetails == nil || snap.ErrorDetails.Stage != models.StagePanic {
		t.Errorf("ErrorDetails = %+v, want stage panic", snap.ErrorDetails)
	}
}

func TestExecutor_SinkFailure(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	strategy := &fakeStrategy{name: "document", run: emitN(5)}

	m, job := runOne(t, strategy, 2, sink)

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.ErrorDetails == nil || snap.ErrorDetails.Stage != models.StageInsert {
		t.Errorf("ErrorDetails = %+v, want stage insert", snap.ErrorDetails)
	}
	// The first batch landed before the failure
	if snap.ChunkCount != 2 {
		t.Errorf("ChunkCount = %d, want 2", snap.ChunkCount)
	}
}

func TestExecutor_ProgressContinuesThroughInsertion(t *testing.T) {
	strategy := &fakeStrategy{name: "document", run: emitN(3)}

	m := NewJobManager(nil, ingest.NewRegistry(strategy), time.Minute)
	exec, err := NewExecutor(1, 8, m, m.registry, &recordingSink{}, testResolver, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Shutdown()

	job, _ := m.Create(context.Background(), "col", "doc.md", "document", nil, ingest.Params{})

	exec.runJob(context.Background(), job)

	snap, _ := m.Get(context.Background(), job.ID)
	if snap.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	// Finalize flushes the buffered chunks and reports insertion before
	// the completion message lands.
	if snap.ProgressMessage != "completed with 3 chunks" {
		t.Errorf("final message = %q", snap.ProgressMessage)
	}
	if snap.ProgressCurrent != snap.ProgressTotal || snap.ProgressTotal != 3 {
		t.Errorf("final progress %d/%d, want 3/3", snap.ProgressCurrent, snap.ProgressTotal)
	}
}
