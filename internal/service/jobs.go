// Package service provides the job state machine and the ingestion executor.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/docpipe/internal/db"
	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/models"
)

// transitions is the job state table. FAILED and CANCELLED re-enter
// PENDING through retry; COMPLETED is final.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusFailed:     {models.JobStatusPending},
	models.JobStatusCancelled:  {models.JobStatusPending},
}

func transitionAllowed(from, to models.JobStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Job is the in-memory record of one ingestion attempt. The manager's map
// is authoritative; the database row trails it via write-through.
type Job struct {
	ID         string
	Collection string
	Source     string
	Strategy   string
	Params     ingest.Params
	Status     models.JobStatus

	// Content is the uploaded document body. Held in memory only; jobs
	// recovered from storage after a restart run without it and
	// content-dependent strategies fail visibly instead of hanging.
	Content []byte

	ProgressCurrent int
	ProgressTotal   int // 0 until the strategy determines it
	ProgressMessage string

	ErrorMessage string
	ErrorDetails *models.ErrorDetails

	ChunkCount      int
	CancelRequested bool
	RetriedCount    int

	CreatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	HeartbeatAt           *time.Time

	mu          sync.RWMutex
	lastPersist time.Time // progress write debouncing
}

// Snapshot returns a consistent copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := Job{
		ID:                    j.ID,
		Collection:            j.Collection,
		Source:                j.Source,
		Strategy:              j.Strategy,
		Params:                j.Params,
		Status:                j.Status,
		Content:               j.Content,
		ProgressCurrent:       j.ProgressCurrent,
		ProgressTotal:         j.ProgressTotal,
		ProgressMessage:       j.ProgressMessage,
		ErrorMessage:          j.ErrorMessage,
		ChunkCount:            j.ChunkCount,
		CancelRequested:       j.CancelRequested,
		RetriedCount:          j.RetriedCount,
		CreatedAt:             j.CreatedAt,
		ProcessingStartedAt:   j.ProcessingStartedAt,
		ProcessingCompletedAt: j.ProcessingCompletedAt,
		HeartbeatAt:           j.HeartbeatAt,
	}
	if j.ErrorDetails != nil {
		details := *j.ErrorDetails
		snap.ErrorDetails = &details
	}
	return snap
}

// Terminal reports whether the snapshot is in an end state.
func (j *Job) Terminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.Terminal()
}

// JobStore is the persistence surface the manager writes through to.
// *db.Client implements it; tests substitute fakes.
type JobStore interface {
	CreateIngestJob(ctx context.Context, id, collectionID, source, strategy string, params map[string]any) error
	GetIngestJob(ctx context.Context, id string) (*models.IngestJob, error)
	ListIngestJobs(ctx context.Context, collectionID, status string, limit, offset int, sortBy, sortOrder string) ([]models.IngestJob, error)
	SetJobProcessing(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, current, total int, message string) error
	CompleteJob(ctx context.Context, id string, chunkCount int, message string) error
	FailJob(ctx context.Context, id, message string, details map[string]any) error
	SetJobErrorDetails(ctx context.Context, id string, details map[string]any) error
	CancelJob(ctx context.Context, id string, chunkCount int) error
	SetCancelRequested(ctx context.Context, id string) error
	RequeueJob(ctx context.Context, id string, params map[string]any) error
	JobStatusCounts(ctx context.Context, collectionID string) ([]db.StatusCount, error)
	RecentFailures(ctx context.Context, collectionID string, limit int) ([]models.IngestJob, error)
	IncompleteJobs(ctx context.Context) ([]models.IngestJob, error)
	StaleProcessingJobs(ctx context.Context, olderThan time.Duration) ([]models.IngestJob, error)
	DeleteChunksForJob(ctx context.Context, jobID string) (int, error)
}

// JobManager tracks ingestion jobs and enforces the state machine. All
// status and progress writes go through it; readers get snapshots and
// never block writers for long.
//
// A nil store keeps the manager fully functional in memory, which is
// how the unit tests run it.
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	db       JobStore
	registry *ingest.Registry

	heartbeatTimeout time.Duration
}

// NewJobManager creates a job manager.
func NewJobManager(dbClient JobStore, registry *ingest.Registry, heartbeatTimeout time.Duration) *JobManager {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 2 * time.Minute
	}
	return &JobManager{
		jobs:             make(map[string]*Job),
		db:               dbClient,
		registry:         registry,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Create validates the submission and registers a new PENDING job.
// Returns a *ingest.ValidationError for an unknown strategy or bad params;
// nothing is stored in that case.
func (m *JobManager) Create(ctx context.Context, collectionID, source, strategyName string, content []byte, params ingest.Params) (*Job, error) {
	if _, err := m.registry.Validate(strategyName, params); err != nil {
		return nil, err
	}

	job := &Job{
		ID:         uuid.New().String(),
		Collection: collectionID,
		Source:     source,
		Strategy:   strategyName,
		Content:    content,
		Params:     params,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now(),
	}

	if m.db != nil {
		if err := m.db.CreateIngestJob(ctx, job.ID, collectionID, source, strategyName, params); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	slog.Info("job created", "job_id", job.ID, "collection", collectionID, "strategy", strategyName, "source", source)
	return job, nil
}

// register adds an existing job to the in-memory map (recovery path).
func (m *JobManager) register(job *Job) {
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
}

// TransitionOption customizes a status transition.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	errMessage string
	errDetails *models.ErrorDetails
	chunkCount int
	message    string
}

// WithError records failure detail on a FAILED transition.
func WithError(message string, details *models.ErrorDetails) TransitionOption {
	return func(o *transitionOpts) {
		o.errMessage = message
		o.errDetails = details
	}
}

// WithChunkCount records how many chunks were actually inserted.
func WithChunkCount(n int) TransitionOption {
	return func(o *transitionOpts) { o.chunkCount = n }
}

// WithMessage sets the final progress message.
func WithMessage(message string) TransitionOption {
	return func(o *transitionOpts) { o.message = message }
}

// Transition moves a job to newStatus, enforcing the state table and
// setting the status timestamp. The job mutex serializes concurrent
// transitions, so exactly one caller wins the PENDING -> PROCESSING edge.
//
// Persistence is write-through best effort: a storage error on an
// otherwise valid transition is logged, not returned, because the
// in-memory record is authoritative.
func (m *JobManager) Transition(ctx context.Context, id string, newStatus models.JobStatus, opts ...TransitionOption) error {
	job := m.lookup(id)
	if job == nil {
		return ErrJobNotFound
	}

	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}

	job.mu.Lock()
	from := job.Status
	if !transitionAllowed(from, newStatus) {
		job.mu.Unlock()
		return &InvalidTransitionError{JobID: id, From: from, To: newStatus}
	}

	now := time.Now()
	job.Status = newStatus

	switch newStatus {
	case models.JobStatusProcessing:
		job.ProcessingStartedAt = &now
		job.HeartbeatAt = &now

	case models.JobStatusCompleted:
		job.ProcessingCompletedAt = &now
		job.ChunkCount = o.chunkCount
		if o.message != "" {
			job.ProgressMessage = o.message
		}
		if job.ProgressTotal > 0 {
			job.ProgressCurrent = job.ProgressTotal
		}
		if o.errDetails != nil {
			// partial-success detail (e.g. some crawl items failed)
			job.ErrorDetails = o.errDetails
		}

	case models.JobStatusFailed:
		job.ProcessingCompletedAt = &now
		job.ErrorMessage = o.errMessage
		job.ErrorDetails = o.errDetails
		job.ChunkCount = o.chunkCount

	case models.JobStatusCancelled:
		job.ProcessingCompletedAt = &now
		job.ChunkCount = o.chunkCount

	case models.JobStatusPending:
		// retry edge: wipe the previous attempt
		job.ErrorMessage = ""
		job.ErrorDetails = nil
		job.ProgressCurrent = 0
		job.ProgressTotal = 0
		job.ProgressMessage = ""
		job.ChunkCount = 0
		job.CancelRequested = false
		job.ProcessingStartedAt = nil
		job.ProcessingCompletedAt = nil
		job.HeartbeatAt = nil
		job.RetriedCount++
	}
	job.mu.Unlock()

	m.persistTransition(ctx, job, newStatus, &o)

	slog.Info("job transition", "job_id", id, "from", from, "to", newStatus)
	return nil
}

func (m *JobManager) persistTransition(ctx context.Context, job *Job, newStatus models.JobStatus, o *transitionOpts) {
	if m.db == nil {
		return
	}

	var err error
	switch newStatus {
	case models.JobStatusProcessing:
		err = m.db.SetJobProcessing(ctx, job.ID)
	case models.JobStatusCompleted:
		err = m.db.CompleteJob(ctx, job.ID, o.chunkCount, o.message)
		if err == nil && o.errDetails != nil {
			err = m.db.SetJobErrorDetails(ctx, job.ID, o.errDetails.AsMap())
		}
	case models.JobStatusFailed:
		err = m.db.FailJob(ctx, job.ID, o.errMessage, o.errDetails.AsMap())
	case models.JobStatusCancelled:
		err = m.db.CancelJob(ctx, job.ID, o.chunkCount)
	case models.JobStatusPending:
		err = m.db.RequeueJob(ctx, job.ID, job.Params)
	}
	if err != nil {
		slog.Warn("failed to persist job transition", "job_id", job.ID, "status", newStatus, "error", err)
	}
}

// UpdateProgress records a progress tick. Progress on a job that is not
// PROCESSING is dropped: a tick racing a terminal transition must not
// mutate the finished record. current never moves backwards; total and
// message are last-writer-wins. Every accepted tick refreshes the
// heartbeat.
func (m *JobManager) UpdateProgress(ctx context.Context, id string, current, total int, message string) {
	job := m.lookup(id)
	if job == nil {
		return
	}

	job.mu.Lock()
	if job.Status != models.JobStatusProcessing {
		job.mu.Unlock()
		slog.Debug("dropping progress for non-processing job", "job_id", id, "status", job.Status)
		return
	}

	if current > job.ProgressCurrent {
		job.ProgressCurrent = current
	}
	job.ProgressTotal = total
	job.ProgressMessage = message
	now := time.Now()
	job.HeartbeatAt = &now

	// Debounce row writes; the final tick always lands.
	persist := m.db != nil && (now.Sub(job.lastPersist) > time.Second ||
		(total > 0 && current >= total))
	if persist {
		job.lastPersist = now
	}
	job.mu.Unlock()

	if persist {
		// The row-level guard repeats the floor and the status check, so
		// a stale write after a concurrent transition cannot land.
		if err := m.db.UpdateJobProgress(ctx, id, current, total, message); err != nil {
			slog.Warn("failed to persist progress", "job_id", id, "error", err)
		}
	}
}

// RequestCancel asks a job to stop. PENDING jobs are cancelled on the
// spot; PROCESSING jobs get the cooperative flag and finalize at their
// next checkpoint; terminal jobs return an InvalidStateError. Best
// effort: a job past its last checkpoint may still complete.
func (m *JobManager) RequestCancel(ctx context.Context, id string) error {
	job, err := m.lookupOrLoad(ctx, id)
	if err != nil {
		return err
	}

	job.mu.Lock()
	status := job.Status
	if status.Terminal() {
		job.mu.Unlock()
		return &InvalidStateError{JobID: id, Status: status, Op: "cancel"}
	}
	job.CancelRequested = true
	job.mu.Unlock()

	if m.db != nil {
		if err := m.db.SetCancelRequested(ctx, id); err != nil {
			slog.Warn("failed to persist cancel request", "job_id", id, "error", err)
		}
	}

	if status == models.JobStatusPending {
		return m.Transition(ctx, id, models.JobStatusCancelled)
	}

	slog.Info("cancel requested", "job_id", id)
	return nil
}

// CancelRequested exposes the cooperative flag for reporters.
func (m *JobManager) CancelRequested(id string) bool {
	job := m.lookup(id)
	if job == nil {
		return false
	}
	job.mu.RLock()
	defer job.mu.RUnlock()
	return job.CancelRequested
}

// Retry re-enqueues a FAILED or CANCELLED job under its original ID,
// clearing error and progress state and bumping retried_count. Chunks
// from the previous attempt are removed so a partially failed run cannot
// leave duplicates behind. paramsOverride, when non-nil, replaces the
// submission params after revalidation.
func (m *JobManager) Retry(ctx context.Context, id string, paramsOverride ingest.Params) (*Job, error) {
	job, err := m.lookupOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}

	job.mu.Lock()
	status := job.Status
	strategyName := job.Strategy
	job.mu.Unlock()

	if status != models.JobStatusFailed && status != models.JobStatusCancelled {
		return nil, &InvalidStateError{JobID: id, Status: status, Op: "retry"}
	}

	if paramsOverride != nil {
		if _, err := m.registry.Validate(strategyName, paramsOverride); err != nil {
			return nil, err
		}
		job.mu.Lock()
		job.Params = paramsOverride
		job.mu.Unlock()
	}

	if m.db != nil {
		if removed, err := m.db.DeleteChunksForJob(ctx, id); err != nil {
			slog.Warn("failed to remove chunks from previous attempt", "job_id", id, "error", err)
		} else if removed > 0 {
			slog.Info("removed chunks from previous attempt", "job_id", id, "chunks", removed)
		}
	}

	if err := m.Transition(ctx, id, models.JobStatusPending); err != nil {
		return nil, err
	}

	slog.Info("job retried", "job_id", id, "strategy", strategyName)
	return job, nil
}

func (m *JobManager) lookup(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// lookupOrLoad finds a live job, reading through storage for jobs from
// earlier process lifetimes. A loaded job is registered so that this and
// later operations act on one instance.
func (m *JobManager) lookupOrLoad(ctx context.Context, id string) (*Job, error) {
	if job := m.lookup(id); job != nil {
		return job, nil
	}

	if m.db == nil {
		return nil, ErrJobNotFound
	}

	row, err := m.db.GetIngestJob(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	job := jobFromRow(row)
	m.mu.Lock()
	if live := m.jobs[id]; live != nil {
		job = live
	} else {
		m.jobs[id] = job
	}
	m.mu.Unlock()
	return job, nil
}

// Get returns a snapshot of a job. Jobs from earlier process lifetimes
// are read through from storage.
func (m *JobManager) Get(ctx context.Context, id string) (*Job, error) {
	if job := m.lookup(id); job != nil {
		snap := job.Snapshot()
		return &snap, nil
	}

	if m.db != nil {
		row, err := m.db.GetIngestJob(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, ErrJobNotFound
			}
			return nil, err
		}
		return jobFromRow(row), nil
	}

	return nil, ErrJobNotFound
}

// ListOptions filters and pages a job listing.
type ListOptions struct {
	Status    string
	Limit     int
	Offset    int
	SortBy    string // created_at | status | progress_current
	SortOrder string // asc | desc
}

// List returns job snapshots for a collection, newest first by default.
// With storage attached the listing reads through the database so that
// history from earlier process lifetimes is included.
func (m *JobManager) List(ctx context.Context, collectionID string, opts ListOptions) ([]Job, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}
	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}
	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	if m.db != nil {
		rows, err := m.db.ListIngestJobs(ctx, collectionID, opts.Status, opts.Limit, opts.Offset, opts.SortBy, opts.SortOrder)
		if err != nil {
			return nil, err
		}
		jobs := make([]Job, 0, len(rows))
		for i := range rows {
			// live jobs may be ahead of their rows
			if live := m.lookup(models.MustRecordIDString(rows[i].ID)); live != nil {
				jobs = append(jobs, live.Snapshot())
				continue
			}
			jobs = append(jobs, *jobFromRow(&rows[i]))
		}
		return jobs, nil
	}

	return m.listMemory(collectionID, opts), nil
}

func (m *JobManager) listMemory(collectionID string, opts ListOptions) []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snap := job.Snapshot()
		if collectionID != "" && snap.Collection != collectionID {
			continue
		}
		if opts.Status != "" && string(snap.Status) != opts.Status {
			continue
		}
		jobs = append(jobs, snap)
	}
	m.mu.RUnlock()

	desc := strings.EqualFold(opts.SortOrder, "desc")
	slices.SortFunc(jobs, func(a, b Job) int {
		var c int
		switch opts.SortBy {
		case "status":
			c = strings.Compare(string(a.Status), string(b.Status))
		case "progress_current":
			c = a.ProgressCurrent - b.ProgressCurrent
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if desc {
			c = -c
		}
		return c
	})

	if opts.Offset >= len(jobs) {
		return []Job{}
	}
	jobs = jobs[opts.Offset:]
	if len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs
}

// Summary aggregates job counts per status for a collection, with the
// most recent failures inlined for dashboards.
type Summary struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	RecentFailures []Job          `json:"-"`
}

// Summarize builds a status summary for one collection.
func (m *JobManager) Summarize(ctx context.Context, collectionID string, recentFailures int) (*Summary, error) {
	summary := &Summary{ByStatus: make(map[string]int)}

	if m.db != nil {
		counts, err := m.db.JobStatusCounts(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		for _, c := range counts {
			summary.ByStatus[c.Status] = c.Count
			summary.Total += c.Count
		}

		if recentFailures > 0 {
			rows, err := m.db.RecentFailures(ctx, collectionID, recentFailures)
			if err != nil {
				return nil, err
			}
			for i := range rows {
				summary.RecentFailures = append(summary.RecentFailures, *jobFromRow(&rows[i]))
			}
		}
		return summary, nil
	}

	for _, snap := range m.listMemory(collectionID, ListOptions{Limit: 200, SortBy: "created_at", SortOrder: "desc"}) {
		summary.ByStatus[string(snap.Status)]++
		summary.Total++
		if snap.Status == models.JobStatusFailed && len(summary.RecentFailures) < recentFailures {
			summary.RecentFailures = append(summary.RecentFailures, snap)
		}
	}
	return summary, nil
}

// RecoverJobs reconciles storage with reality after a restart. Jobs the
// database believes are PROCESSING belonged to a dead process and fail as
// orphaned; PENDING jobs are re-registered and returned for re-enqueue.
func (m *JobManager) RecoverJobs(ctx context.Context) ([]*Job, error) {
	if m.db == nil {
		return nil, nil
	}

	rows, err := m.db.IncompleteJobs(ctx)
	if err != nil {
		return nil, err
	}

	var requeue []*Job
	for i := range rows {
		row := &rows[i]
		id := models.MustRecordIDString(row.ID)

		switch models.JobStatus(row.Status) {
		case models.JobStatusProcessing:
			details := models.ErrorDetails{Stage: models.StageOrphaned}
			if err := m.db.FailJob(ctx, id, "job orphaned by process restart", details.AsMap()); err != nil {
				slog.Warn("failed to orphan job", "job_id", id, "error", err)
				continue
			}
			slog.Info("orphaned processing job from previous run", "job_id", id)

		case models.JobStatusPending:
			job := jobFromRow(row)
			m.register(job)
			requeue = append(requeue, job)
			slog.Info("recovered pending job", "job_id", id)
		}
	}

	return requeue, nil
}

// SweepOrphans fails PROCESSING rows whose heartbeat went stale. Safe to
// run repeatedly; rows already failed do not match again. Jobs live in
// this process heartbeat through their progress ticks and are skipped.
func (m *JobManager) SweepOrphans(ctx context.Context) int {
	if m.db == nil {
		return 0
	}

	rows, err := m.db.StaleProcessingJobs(ctx, m.heartbeatTimeout)
	if err != nil {
		slog.Warn("orphan sweep query failed", "error", err)
		return 0
	}

	swept := 0
	for i := range rows {
		id := models.MustRecordIDString(rows[i].ID)

		if live := m.lookup(id); live != nil {
			live.mu.RLock()
			beat := live.HeartbeatAt
			status := live.Status
			live.mu.RUnlock()
			if status == models.JobStatusProcessing && beat != nil && time.Since(*beat) < m.heartbeatTimeout {
				// row is stale, the job is not; refresh and move on
				continue
			}
		}

		details := models.ErrorDetails{Stage: models.StageOrphaned}
		if err := m.db.FailJob(ctx, id, "job heartbeat went stale", details.AsMap()); err != nil {
			slog.Warn("failed to orphan stale job", "job_id", id, "error", err)
			continue
		}
		if live := m.lookup(id); live != nil {
			live.mu.Lock()
			if live.Status == models.JobStatusProcessing {
				now := time.Now()
				live.Status = models.JobStatusFailed
				live.ErrorMessage = "job heartbeat went stale"
				live.ErrorDetails = &details
				live.ProcessingCompletedAt = &now
			}
			live.mu.Unlock()
		}
		swept++
		slog.Warn("swept orphaned job", "job_id", id)
	}
	return swept
}

// StartSweeper runs SweepOrphans on an interval until ctx is done.
func (m *JobManager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepOrphans(ctx)
			}
		}
	}()
}

func jobFromRow(row *models.IngestJob) *Job {
	job := &Job{
		ID:                    models.MustRecordIDString(row.ID),
		Collection:            row.Collection,
		Source:                row.Source,
		Strategy:              row.Strategy,
		Params:                ingest.Params(row.StrategyParams),
		Status:                models.JobStatus(row.Status),
		ProgressCurrent:       row.ProgressCurrent,
		ProgressTotal:         row.ProgressTotal,
		ProgressMessage:       row.ProgressMessage,
		ChunkCount:            row.ChunkCount,
		CancelRequested:       row.CancelRequested,
		RetriedCount:          row.RetriedCount,
		CreatedAt:             row.CreatedAt,
		ProcessingStartedAt:   row.ProcessingStartedAt,
		ProcessingCompletedAt: row.ProcessingCompletedAt,
		HeartbeatAt:           row.HeartbeatAt,
	}
	if row.ErrorMessage != nil {
		job.ErrorMessage = *row.ErrorMessage
	}
	if row.ErrorDetails != nil {
		job.ErrorDetails = detailsFromMap(row.ErrorDetails)
	}
	return job
}

func detailsFromMap(m map[string]any) *models.ErrorDetails {
	details := &models.ErrorDetails{}
	if stage, ok := m["stage"].(string); ok {
		details.Stage = stage
	}
	if item, ok := m["item"].(string); ok {
		details.Item = item
	}
	if items, ok := m["items_failed"].(map[string]any); ok {
		details.Items = make(map[string]string, len(items))
		for k, v := range items {
			if s, ok := v.(string); ok {
				details.Items[k] = s
			}
		}
	}
	return details
}
