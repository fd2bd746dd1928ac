package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewDocumentStrategy(), NewCrawlStrategy(), NewTranscriptStrategy())

	t.Run("get known", func(t *testing.T) {
		s, err := reg.Get("document")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if s.Name() != "document" {
			t.Errorf("Name() = %q", s.Name())
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := reg.Get("pdf")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Get() error = %v, want *ValidationError", err)
		}
		if verr.Field != "strategy_name" {
			t.Errorf("Field = %q, want strategy_name", verr.Field)
		}
		// Error names the valid strategies for the caller
		if !strings.Contains(verr.Message, "crawl") {
			t.Errorf("Message = %q, should list known strategies", verr.Message)
		}
	})

	t.Run("names sorted", func(t *testing.T) {
		names := reg.Names()
		want := []string{"crawl", "document", "transcript"}
		if len(names) != len(want) {
			t.Fatalf("Names() = %v", names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("validate rejects bad params", func(t *testing.T) {
		_, err := reg.Validate("crawl", Params{})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Validate() error = %v, want *ValidationError", err)
		}
	})
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"name":   "notes",
		"flag":   true,
		"n_int":  3,
		"n_json": float64(7),
		"list":   []any{"a", "b", 3},
	}

	if v, ok := p.String("name"); !ok || v != "notes" {
		t.Errorf("String(name) = %q, %v", v, ok)
	}
	if _, ok := p.String("missing"); ok {
		t.Error("String(missing) reported present")
	}
	if !p.Bool("flag") || p.Bool("missing") {
		t.Error("Bool() wrong")
	}
	if p.Int("n_int", 0) != 3 || p.Int("n_json", 0) != 7 || p.Int("missing", 9) != 9 {
		t.Error("Int() wrong")
	}
	if got := p.StringSlice("list"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("StringSlice(list) = %v, non-strings should be dropped", got)
	}
}

func TestDocumentStrategy_Run(t *testing.T) {
	s := NewDocumentStrategy()

	content := `---
title: Runbook
tags: [ops]
---

# Runbook

## Restart

Stop the service, wait for drain, start it again.
`

	var chunks []Chunk
	emit := func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	}

	var lastCurrent, lastTotal int
	rep := NewReporter(func(current, total int, message string) {
		lastCurrent, lastTotal = current, total
	}, nil)

	err := s.Run(context.Background(), Source{Descriptor: "runbook.md", Content: []byte(content)}, Params{}, rep, emit)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 for a short document", len(chunks))
	}
	if chunks[0].Metadata["title"] != "Runbook" {
		t.Errorf("metadata title = %v", chunks[0].Metadata["title"])
	}
	tags, _ := chunks[0].Metadata["tags"].([]string)
	if len(tags) != 1 || tags[0] != "ops" {
		t.Errorf("metadata tags = %v", chunks[0].Metadata["tags"])
	}

	// Last tick lands on total: convert + chunk + one per chunk
	if lastTotal != 2+len(chunks) || lastCurrent != lastTotal {
		t.Errorf("final progress %d/%d, want %d/%d", lastCurrent, lastTotal, 2+len(chunks), 2+len(chunks))
	}
}

func TestDocumentStrategy_EmptyContent(t *testing.T) {
	s := NewDocumentStrategy()

	err := s.Run(context.Background(), Source{Content: []byte("   \n\n")}, Params{}, nil, func(Chunk) error { return nil })
	serr, ok := err.(*StrategyError)
	if !ok {
		t.Fatalf("Run() error = %v, want *StrategyError", err)
	}
	if serr.Details.Stage != "convert" {
		t.Errorf("Details.Stage = %q, want convert", serr.Details.Stage)
	}
}

func TestDocumentStrategy_EmitStopsRun(t *testing.T) {
	s := NewDocumentStrategy()

	// Long enough to produce several chunks
	content := strings.Repeat("# S\n\n"+strings.Repeat("word ", 300)+"\n\n", 3)

	calls := 0
	emit := func(Chunk) error {
		calls++
		return ErrCancelled
	}

	err := s.Run(context.Background(), Source{Content: []byte(content)}, Params{}, nil, emit)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if calls != 1 {
		t.Errorf("emit called %d times after cancellation, want 1", calls)
	}
}

func TestValidateChunkParams(t *testing.T) {
	if err := validateChunkParams(Params{"chunk_target": 500}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := validateChunkParams(Params{"chunk_max": -1}); err == nil {
		t.Error("negative chunk_max accepted")
	}
	if err := validateChunkParams(Params{"chunk_overlap": "lots"}); err == nil {
		t.Error("non-numeric chunk_overlap accepted")
	}
}
