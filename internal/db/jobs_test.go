package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/docpipe/internal/models"
)

func createTestJob(t *testing.T, collection string) string {
	t.Helper()
	ctx := context.Background()

	id := uuid.New().String()
	err := testDB.CreateIngestJob(ctx, id, collection, "doc.md", "document", map[string]any{"chunk_target": 500})
	if err != nil {
		t.Fatalf("CreateIngestJob failed: %v", err)
	}
	return id
}

func TestCreateAndGetIngestJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-roundtrip")

	job, err := testDB.GetIngestJob(ctx, id)
	if err != nil {
		t.Fatalf("GetIngestJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("GetIngestJob returned nil for existing job")
	}

	if got := models.MustRecordIDString(job.ID); got != id {
		t.Errorf("ID = %q, want %q", got, id)
	}
	if job.Status != "pending" {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.Source != "doc.md" || job.Strategy != "document" {
		t.Errorf("Source/Strategy = %q/%q", job.Source, job.Strategy)
	}
	if job.StrategyParams["chunk_target"] == nil {
		t.Errorf("StrategyParams = %v, params not persisted", job.StrategyParams)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted by schema")
	}
}

func TestGetIngestJob_NotFound(t *testing.T) {
	requireDB(t)

	job, err := testDB.GetIngestJob(context.Background(), "no-such-job")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if job != nil {
		t.Errorf("GetIngestJob returned %+v for missing row", job)
	}
}

func TestJobLifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-lifecycle")

	if err := testDB.SetJobProcessing(ctx, id); err != nil {
		t.Fatalf("SetJobProcessing failed: %v", err)
	}
	job, _ := testDB.GetIngestJob(ctx, id)
	if job.Status != "processing" {
		t.Errorf("Status = %q, want processing", job.Status)
	}
	if job.ProcessingStartedAt == nil || job.HeartbeatAt == nil {
		t.Error("processing timestamps not set")
	}

	if err := testDB.UpdateJobProgress(ctx, id, 3, 10, "step 3"); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	job, _ = testDB.GetIngestJob(ctx, id)
	if job.ProgressCurrent != 3 || job.ProgressTotal != 10 || job.ProgressMessage != "step 3" {
		t.Errorf("progress = %d/%d %q", job.ProgressCurrent, job.ProgressTotal, job.ProgressMessage)
	}

	if err := testDB.CompleteJob(ctx, id, 10, "completed with 10 chunks"); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	job, _ = testDB.GetIngestJob(ctx, id)
	if job.Status != "completed" || job.ChunkCount != 10 {
		t.Errorf("final row = %q chunks=%d", job.Status, job.ChunkCount)
	}
	if job.ProcessingCompletedAt == nil {
		t.Error("ProcessingCompletedAt not set")
	}
}

func TestUpdateJobProgress_Guards(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-guards")
	testDB.SetJobProcessing(ctx, id)
	testDB.UpdateJobProgress(ctx, id, 5, 10, "step 5")

	// Out-of-order tick: the floor holds, message still lands
	if err := testDB.UpdateJobProgress(ctx, id, 2, 10, "late tick"); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	job, _ := testDB.GetIngestJob(ctx, id)
	if job.ProgressCurrent != 5 {
		t.Errorf("ProgressCurrent = %d, floor must hold at 5", job.ProgressCurrent)
	}
	if job.ProgressMessage != "late tick" {
		t.Errorf("ProgressMessage = %q, want last-writer-wins", job.ProgressMessage)
	}

	// Tick racing a terminal transition: the status guard drops it
	testDB.CompleteJob(ctx, id, 10, "done")
	if err := testDB.UpdateJobProgress(ctx, id, 9, 10, "zombie"); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	job, _ = testDB.GetIngestJob(ctx, id)
	if job.ProgressMessage != "done" {
		t.Errorf("ProgressMessage = %q, tick landed on a completed job", job.ProgressMessage)
	}
}

func TestFailAndRequeueJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-retry")
	testDB.SetJobProcessing(ctx, id)
	testDB.UpdateJobProgress(ctx, id, 4, 8, "halfway")

	details := map[string]any{"stage": "crawl", "items_failed": map[string]any{"https://x": "timeout"}}
	if err := testDB.FailJob(ctx, id, "2 URLs failed", details); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	job, _ := testDB.GetIngestJob(ctx, id)
	if job.Status != "failed" {
		t.Fatalf("Status = %q, want failed", job.Status)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "2 URLs failed" {
		t.Errorf("ErrorMessage = %v", job.ErrorMessage)
	}
	if job.ErrorDetails["stage"] != "crawl" {
		t.Errorf("ErrorDetails = %v", job.ErrorDetails)
	}

	if err := testDB.RequeueJob(ctx, id, map[string]any{"chunk_target": 800}); err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}
	job, _ = testDB.GetIngestJob(ctx, id)
	if job.Status != "pending" {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.ErrorMessage != nil || job.ErrorDetails != nil {
		t.Errorf("error state not cleared: %v %v", job.ErrorMessage, job.ErrorDetails)
	}
	if job.ProgressCurrent != 0 || job.ProgressTotal != 0 || job.ChunkCount != 0 {
		t.Error("progress state not cleared")
	}
	if job.ProcessingStartedAt != nil || job.ProcessingCompletedAt != nil || job.HeartbeatAt != nil {
		t.Error("timestamps not cleared")
	}
	if job.RetriedCount != 1 {
		t.Errorf("RetriedCount = %d, want 1", job.RetriedCount)
	}
}

func TestCancelJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-cancel")
	testDB.SetJobProcessing(ctx, id)

	if err := testDB.SetCancelRequested(ctx, id); err != nil {
		t.Fatalf("SetCancelRequested failed: %v", err)
	}
	job, _ := testDB.GetIngestJob(ctx, id)
	if !job.CancelRequested {
		t.Error("cancel_requested not set")
	}

	if err := testDB.CancelJob(ctx, id, 3); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	job, _ = testDB.GetIngestJob(ctx, id)
	if job.Status != "cancelled" || job.ChunkCount != 3 {
		t.Errorf("row = %q chunks=%d", job.Status, job.ChunkCount)
	}
}

func TestSetJobErrorDetails_KeepsStatus(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := createTestJob(t, "col-partial")
	testDB.SetJobProcessing(ctx, id)
	testDB.CompleteJob(ctx, id, 5, "completed with warnings")

	details := map[string]any{"stage": "crawl", "items_failed": map[string]any{"https://x": "404"}}
	if err := testDB.SetJobErrorDetails(ctx, id, details); err != nil {
		t.Fatalf("SetJobErrorDetails failed: %v", err)
	}

	job, _ := testDB.GetIngestJob(ctx, id)
	if job.Status != "completed" {
		t.Errorf("Status = %q, partial detail must not change status", job.Status)
	}
	if job.ErrorDetails == nil || job.ErrorDetails["stage"] != "crawl" {
		t.Errorf("ErrorDetails = %v", job.ErrorDetails)
	}
}

func TestListIngestJobs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	collection := "col-list-" + uuid.New().String()[:8]
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createTestJob(t, collection))
		time.Sleep(5 * time.Millisecond)
	}
	testDB.SetJobProcessing(ctx, ids[0])
	testDB.FailJob(ctx, ids[0], "boom", map[string]any{"stage": "strategy"})

	jobs, err := testDB.ListIngestJobs(ctx, collection, "", 10, 0, "created_at", "desc")
	if err != nil {
		t.Fatalf("ListIngestJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if got := models.MustRecordIDString(jobs[0].ID); got != ids[2] {
		t.Errorf("jobs[0] = %s, want newest %s", got, ids[2])
	}

	failed, err := testDB.ListIngestJobs(ctx, collection, "failed", 10, 0, "created_at", "desc")
	if err != nil {
		t.Fatalf("ListIngestJobs(failed) failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("got %d failed jobs, want 1", len(failed))
	}

	paged, err := testDB.ListIngestJobs(ctx, collection, "", 1, 1, "created_at", "desc")
	if err != nil {
		t.Fatalf("ListIngestJobs(paged) failed: %v", err)
	}
	if len(paged) != 1 || models.MustRecordIDString(paged[0].ID) != ids[1] {
		t.Errorf("pagination returned wrong job")
	}
}

func TestJobStatusCountsAndRecentFailures(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	collection := "col-counts-" + uuid.New().String()[:8]
	createTestJob(t, collection)
	createTestJob(t, collection)
	failedID := createTestJob(t, collection)
	testDB.SetJobProcessing(ctx, failedID)
	testDB.FailJob(ctx, failedID, "crawl blew up", map[string]any{"stage": "crawl"})

	counts, err := testDB.JobStatusCounts(ctx, collection)
	if err != nil {
		t.Fatalf("JobStatusCounts failed: %v", err)
	}
	byStatus := map[string]int{}
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	if byStatus["pending"] != 2 || byStatus["failed"] != 1 {
		t.Errorf("counts = %v", byStatus)
	}

	failures, err := testDB.RecentFailures(ctx, collection, 5)
	if err != nil {
		t.Fatalf("RecentFailures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if failures[0].ErrorMessage == nil || *failures[0].ErrorMessage != "crawl blew up" {
		t.Errorf("ErrorMessage = %v", failures[0].ErrorMessage)
	}
}

func TestIncompleteAndStaleJobs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	collection := "col-recover-" + uuid.New().String()[:8]
	pendingID := createTestJob(t, collection)
	processingID := createTestJob(t, collection)
	testDB.SetJobProcessing(ctx, processingID)

	incomplete, err := testDB.IncompleteJobs(ctx)
	if err != nil {
		t.Fatalf("IncompleteJobs failed: %v", err)
	}
	found := map[string]string{}
	for i := range incomplete {
		found[models.MustRecordIDString(incomplete[i].ID)] = incomplete[i].Status
	}
	if found[pendingID] != "pending" || found[processingID] != "processing" {
		t.Errorf("incomplete jobs missing fixtures: %v", found)
	}

	// A fresh heartbeat is not stale
	stale, err := testDB.StaleProcessingJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("StaleProcessingJobs failed: %v", err)
	}
	for i := range stale {
		if models.MustRecordIDString(stale[i].ID) == processingID {
			t.Error("fresh job reported stale")
		}
	}

	// With a zero cutoff every heartbeat is in the past
	stale, err = testDB.StaleProcessingJobs(ctx, 0)
	if err != nil {
		t.Fatalf("StaleProcessingJobs failed: %v", err)
	}
	foundStale := false
	for i := range stale {
		if models.MustRecordIDString(stale[i].ID) == processingID {
			foundStale = true
		}
	}
	if !foundStale {
		t.Error("processing job not reported with zero cutoff")
	}
}

func TestChunkRoundtrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	chunks := []models.ChunkInput{
		{JobID: jobID, CollectionID: "col-chunks", Content: "first", Position: 0, Embedding: dummyEmbedding()},
		{JobID: jobID, CollectionID: "col-chunks", Content: "second", Position: 1,
			Metadata: map[string]any{"section": "## Setup"}, Embedding: dummyEmbedding()},
	}
	if err := testDB.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks failed: %v", err)
	}

	got, err := testDB.GetChunks(ctx, jobID)
	if err != nil {
		t.Fatalf("GetChunks failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("chunks out of position order: %q, %q", got[0].Content, got[1].Content)
	}
	if got[1].Metadata["section"] != "## Setup" {
		t.Errorf("metadata = %v", got[1].Metadata)
	}

	removed, err := testDB.DeleteChunksForJob(ctx, jobID)
	if err != nil {
		t.Fatalf("DeleteChunksForJob failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d chunks, want 2", removed)
	}
	got, _ = testDB.GetChunks(ctx, jobID)
	if len(got) != 0 {
		t.Errorf("%d chunks remain after delete", len(got))
	}
}

func TestCollectionRoundtrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	id := "col-" + uuid.New().String()[:8]
	err := testDB.CreateCollection(ctx, id, "Notes", "ollama", "all-minilm:l6-v2", 4, true)
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	col, err := testDB.GetCollection(ctx, id)
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if col == nil {
		t.Fatal("GetCollection returned nil")
	}
	if col.Name != "Notes" || col.EmbeddingVendor != "ollama" || col.EmbeddingDimension != 4 {
		t.Errorf("collection = %+v", col)
	}
	if !col.Captioning {
		t.Error("captioning flag not persisted")
	}

	missing, err := testDB.GetCollection(ctx, "no-such-collection")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if missing != nil {
		t.Errorf("GetCollection returned %+v for missing row", missing)
	}
}
