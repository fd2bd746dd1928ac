package ingest

import (
	"context"
	"fmt"
	"slices"

	"github.com/raphaelgruber/docpipe/internal/models"
)

// Source describes the document a job was submitted with.
type Source struct {
	// Descriptor is the original filename or URL, opaque to the executor.
	Descriptor string

	// Content is the uploaded document body. Nil for strategies that
	// fetch their own content (crawl, transcript).
	Content []byte

	// Collection is the owning vector collection, read-only. Strategies
	// consult it for capability flags (e.g. captioning).
	Collection *models.Collection
}

// Params is the strategy-specific configuration submitted with a job.
type Params map[string]any

// String extracts a string param, with ok reporting presence.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Bool extracts a bool param, defaulting to false.
func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Int extracts an int param. JSON decoding produces float64, SurrealDB
// round-trips may produce int64, so all three are accepted.
func (p Params) Int(key string, defaultVal int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultVal
}

// StringSlice extracts a string slice param.
func (p Params) StringSlice(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// Chunk is one unit of strategy output: text plus a metadata map.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// EmitFunc hands one chunk to the executor. It returns ErrCancelled when a
// cooperative cancel was observed between chunks; every call is a
// cancellation checkpoint and strategies must stop on a non-nil return.
type EmitFunc func(Chunk) error

// Strategy converts a source document into a finite sequence of chunks.
// Implementations report progress through the Reporter (at least one tick
// per stage) and emit chunks as they become available.
type Strategy interface {
	// Name is the registry key collaborators submit jobs with.
	Name() string

	// ValidateParams checks the submitted params against the strategy's
	// own schema. Returns a *ValidationError on failure.
	ValidateParams(params Params) error

	// Run produces the chunk sequence. Any returned *StrategyError is
	// captured verbatim onto the job; ErrCancelled finalizes the job as
	// cancelled rather than failed.
	Run(ctx context.Context, src Source, params Params, rep *Reporter, emit EmitFunc) error
}

// Registry maps strategy names to implementations. Built explicitly at
// startup; no reflection, no dynamic dispatch.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates a registry from an explicit strategy table.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	return r
}

// Get resolves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, &ValidationError{
			Field:   "strategy_name",
			Message: fmt.Sprintf("unknown strategy %q (known: %v)", name, r.Names()),
		}
	}
	return s, nil
}

// Validate resolves a strategy and checks params in one step, as the
// submission path does.
func (r *Registry) Validate(name string, params Params) (Strategy, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
