package ingest

import "sync"

// ProgressFunc is the storage-side callback a Reporter forwards to. The
// underlying write is the executor's responsibility; failures there are
// swallowed and logged, never surfaced to the strategy.
type ProgressFunc func(current, total int, message string)

// Reporter is the only channel through which a strategy influences stored
// progress. It is a small value bound to one job at executor-creation time,
// so progress attribution cannot leak across concurrently running jobs.
//
// Calls are fire-and-forget and safe for concurrent use: strategies that
// fan out internally may share one Reporter, and the mutex serializes the
// underlying callback. A monotonic floor on current is additionally
// enforced at the store layer, so interleaved callers cannot walk
// progress backwards.
type Reporter struct {
	mu        sync.Mutex
	report    ProgressFunc
	cancelled func() bool
	current   int
	total     int
}

// NewReporter binds a reporter to one job's progress callback and
// cancellation flag.
func NewReporter(report ProgressFunc, cancelled func() bool) *Reporter {
	return &Reporter{report: report, cancelled: cancelled}
}

// Report publishes a progress tick. total may be 0 while still unknown.
func (r *Reporter) Report(current, total int, message string) {
	if r == nil || r.report == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current > r.current {
		r.current = current
	}
	r.total = total
	r.report(current, total, message)
}

// Snapshot returns the highest current and the latest total reported so
// far. The executor uses it to continue the tick sequence through the
// insertion phase after a strategy finishes producing chunks.
func (r *Reporter) Snapshot() (current, total int) {
	if r == nil {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.total
}

// Cancelled exposes the cooperative cancellation flag for strategy-defined
// checkpoints (per chunk, per stage, per sub-item).
func (r *Reporter) Cancelled() bool {
	if r == nil || r.cancelled == nil {
		return false
	}
	return r.cancelled()
}
