package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/raphaelgruber/docpipe/internal/db"
	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/models"
	"github.com/raphaelgruber/docpipe/internal/service"
)

// progressPayload is the derived progress block on job responses.
type progressPayload struct {
	Current    int      `json:"current"`
	Total      int      `json:"total"`
	Message    string   `json:"message,omitempty"`
	Percentage *float64 `json:"percentage"` // null while total is unknown
}

type errorPayload struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// jobPayload is the wire shape of one job.
type jobPayload struct {
	ID              string          `json:"id"`
	CollectionID    string          `json:"collection_id"`
	Source          string          `json:"source"`
	Strategy        string          `json:"strategy"`
	StrategyParams  map[string]any  `json:"strategy_params,omitempty"`
	Status          string          `json:"status"`
	Progress        progressPayload `json:"progress"`
	Error           *errorPayload   `json:"error,omitempty"`
	ChunkCount      int             `json:"chunk_count"`
	CancelRequested bool            `json:"cancel_requested"`
	RetriedCount    int             `json:"retried_count"`

	CreatedAt             time.Time  `json:"created_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`

	ElapsedSeconds  *float64 `json:"elapsed_seconds,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

func jobToPayload(j *service.Job) jobPayload {
	p := jobPayload{
		ID:                    j.ID,
		CollectionID:          j.Collection,
		Source:                j.Source,
		Strategy:              j.Strategy,
		StrategyParams:        j.Params,
		Status:                string(j.Status),
		ChunkCount:            j.ChunkCount,
		CancelRequested:       j.CancelRequested,
		RetriedCount:          j.RetriedCount,
		CreatedAt:             j.CreatedAt,
		ProcessingStartedAt:   j.ProcessingStartedAt,
		ProcessingCompletedAt: j.ProcessingCompletedAt,
		Progress: progressPayload{
			Current: j.ProgressCurrent,
			Total:   j.ProgressTotal,
			Message: j.ProgressMessage,
		},
	}

	if j.ProgressTotal > 0 {
		pct := float64(j.ProgressCurrent) / float64(j.ProgressTotal) * 100
		if pct > 100 {
			pct = 100
		}
		p.Progress.Percentage = &pct
	}

	if j.ErrorMessage != "" || j.ErrorDetails != nil {
		p.Error = &errorPayload{
			Message: j.ErrorMessage,
			Details: j.ErrorDetails.AsMap(),
		}
	}

	if j.ProcessingStartedAt != nil {
		if j.ProcessingCompletedAt != nil {
			d := j.ProcessingCompletedAt.Sub(*j.ProcessingStartedAt).Seconds()
			p.DurationSeconds = &d
		} else {
			e := time.Since(*j.ProcessingStartedAt).Seconds()
			p.ElapsedSeconds = &e
		}
	}

	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes: 400 for validation,
// 404 for unknown jobs, 409 for state conflicts.
func writeError(w http.ResponseWriter, err error) {
	var validation *ingest.ValidationError
	var invalidState *service.InvalidStateError
	var invalidTransition *service.InvalidTransitionError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validation.Message,
			"field": validation.Field,
		})
	case errors.Is(err, service.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found"})
	case errors.As(err, &invalidState), errors.As(err, &invalidTransition):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

type submitRequest struct {
	Source   string         `json:"source"`
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params"`
	Content  string         `json:"content,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &ingest.ValidationError{Message: "malformed request body"})
		return
	}
	if req.Strategy == "" {
		writeError(w, &ingest.ValidationError{Field: "strategy", Message: "strategy is required"})
		return
	}

	if s.resolve != nil {
		col, err := s.resolve(r.Context(), collectionID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			writeError(w, err)
			return
		}
		if err != nil || col == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "collection not found"})
			return
		}
	}

	var content []byte
	if req.Content != "" {
		content = []byte(req.Content)
	}

	job, err := s.manager.Create(r.Context(), collectionID, req.Source, req.Strategy, content, ingest.Params(req.Params))
	if err != nil {
		writeError(w, err)
		return
	}

	s.executor.Enqueue(job)

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, jobToPayload(&snap))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")
	q := r.URL.Query()

	opts := service.ListOptions{
		Status:    q.Get("status"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = offset
	}
	if opts.Status != "" && !models.JobStatus(opts.Status).Valid() {
		writeError(w, &ingest.ValidationError{Field: "status", Message: "unknown status value"})
		return
	}

	jobs, err := s.manager.List(r.Context(), collectionID, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	payloads := make([]jobPayload, len(jobs))
	for i := range jobs {
		payloads[i] = jobToPayload(&jobs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   payloads,
		"count":  len(payloads),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToPayload(job))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.Summarize(r.Context(), r.PathValue("id"), 5)
	if err != nil {
		writeError(w, err)
		return
	}

	failures := make([]map[string]any, 0, len(summary.RecentFailures))
	for i := range summary.RecentFailures {
		f := &summary.RecentFailures[i]
		entry := map[string]any{
			"id":      f.ID,
			"source":  f.Source,
			"message": f.ErrorMessage,
		}
		if f.ProcessingCompletedAt != nil {
			entry["failed_at"] = f.ProcessingCompletedAt
		}
		failures = append(failures, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":           summary.Total,
		"by_status":       summary.ByStatus,
		"recent_failures": failures,
	})
}

type retryRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &ingest.ValidationError{Message: "malformed request body"})
			return
		}
	}

	var override ingest.Params
	if req.Params != nil {
		override = ingest.Params(req.Params)
	}

	job, err := s.manager.Retry(r.Context(), r.PathValue("job_id"), override)
	if err != nil {
		writeError(w, err)
		return
	}

	s.executor.Enqueue(job)

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, jobToPayload(&snap))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	if err := s.manager.RequestCancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.manager.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToPayload(job))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"poll_interval_seconds": s.cfg.PollIntervalSeconds,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
