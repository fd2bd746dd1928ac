// Package client provides a REST client for the docpipe server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to the docpipe server's status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If endpoint is empty, uses the DOCPIPE_SERVER_URL
// env var or defaults to localhost:8585.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("DOCPIPE_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8585"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("DOCPIPE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (field %s)", e.Message, e.Field)
	}
	return e.Message
}

// Progress is the derived progress block on a job.
type Progress struct {
	Current    int      `json:"current"`
	Total      int      `json:"total"`
	Message    string   `json:"message,omitempty"`
	Percentage *float64 `json:"percentage"`
}

// JobError carries failure detail.
type JobError struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Job is one ingestion job as returned by the server.
type Job struct {
	ID              string         `json:"id"`
	CollectionID    string         `json:"collection_id"`
	Source          string         `json:"source"`
	Strategy        string         `json:"strategy"`
	StrategyParams  map[string]any `json:"strategy_params,omitempty"`
	Status          string         `json:"status"`
	Progress        Progress       `json:"progress"`
	Error           *JobError      `json:"error,omitempty"`
	ChunkCount      int            `json:"chunk_count"`
	CancelRequested bool           `json:"cancel_requested"`
	RetriedCount    int            `json:"retried_count"`

	CreatedAt             time.Time  `json:"created_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`

	ElapsedSeconds  *float64 `json:"elapsed_seconds,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Terminal reports whether the job has finished one way or another.
func (j *Job) Terminal() bool {
	switch j.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Summary aggregates job counts for a collection.
type Summary struct {
	Total          int              `json:"total"`
	ByStatus       map[string]int   `json:"by_status"`
	RecentFailures []map[string]any `json:"recent_failures"`
}

// SubmitRequest is the ingestion submission payload.
type SubmitRequest struct {
	Source   string         `json:"source"`
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params,omitempty"`
	Content  string         `json:"content,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var payload struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Field = payload.Field
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Submit creates an ingestion job.
func (c *Client) Submit(ctx context.Context, collectionID string, req SubmitRequest) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/collections/%s/ingest", url.PathEscape(collectionID))
	if err := c.do(ctx, http.MethodPost, path, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs for a collection, newest first.
func (c *Client) ListJobs(ctx context.Context, collectionID, status string, limit, offset int) ([]Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := fmt.Sprintf("/collections/%s/ingestion-jobs", url.PathEscape(collectionID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job with derived progress fields.
func (c *Client) GetJob(ctx context.Context, collectionID, jobID string) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/collections/%s/ingestion-jobs/%s", url.PathEscape(collectionID), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Summary returns status counts and recent failures for a collection.
func (c *Client) Summary(ctx context.Context, collectionID string) (*Summary, error) {
	var summary Summary
	path := fmt.Sprintf("/collections/%s/ingestion-status", url.PathEscape(collectionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Retry re-enqueues a failed or cancelled job. paramsOverride may be nil.
func (c *Client) Retry(ctx context.Context, collectionID, jobID string, paramsOverride map[string]any) (*Job, error) {
	var body any
	if paramsOverride != nil {
		body = map[string]any{"params": paramsOverride}
	}

	var job Job
	path := fmt.Sprintf("/collections/%s/ingestion-jobs/%s/retry", url.PathEscape(collectionID), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodPost, path, body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel requests best-effort cancellation.
func (c *Client) Cancel(ctx context.Context, collectionID, jobID string) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/collections/%s/ingestion-jobs/%s/cancel", url.PathEscape(collectionID), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodPost, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// PollInterval returns the server-advertised poll interval.
func (c *Client) PollInterval(ctx context.Context) (time.Duration, error) {
	var resp struct {
		PollIntervalSeconds int `json:"poll_interval_seconds"`
	}
	if err := c.do(ctx, http.MethodGet, "/config/ingestion", nil, &resp); err != nil {
		return 0, err
	}
	if resp.PollIntervalSeconds <= 0 {
		resp.PollIntervalSeconds = 3
	}
	return time.Duration(resp.PollIntervalSeconds) * time.Second, nil
}
