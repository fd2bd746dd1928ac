package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Install Guide</title><style>body { color: red }</style></head>
<body>
<nav><a href="/">Home</a></nav>
<script>console.log("tracking")</script>
<h1>Install Guide</h1>
<p>Download the binary and place it on your PATH.</p>
<p>Run the init command to create the config file.</p>
<footer>Copyright</footer>
</body>
</html>`

func TestHTMLToText(t *testing.T) {
	title, text := htmlToText(samplePage)

	if title != "Install Guide" {
		t.Errorf("title = %q, want 'Install Guide'", title)
	}
	if !strings.Contains(text, "Download the binary") {
		t.Errorf("text missing paragraph content: %q", text)
	}
	for _, dropped := range []string{"console.log", "color: red", "Home", "Copyright"} {
		if strings.Contains(text, dropped) {
			t.Errorf("text contains %q, should be dropped", dropped)
		}
	}
	// Paragraphs separated at block boundaries
	if !strings.Contains(text, "your PATH.\n\nRun the init") {
		t.Errorf("no paragraph break between blocks: %q", text)
	}
}

func TestCrawlStrategy_ValidateParams(t *testing.T) {
	s := NewCrawlStrategy()

	tests := []struct {
		name    string
		params  Params
		wantErr string // empty means valid
	}{
		{name: "valid", params: Params{"urls": []string{"https://example.com/docs"}}},
		{name: "missing urls", params: Params{}, wantErr: "urls"},
		{name: "bad scheme", params: Params{"urls": []string{"file:///etc/passwd"}}, wantErr: "urls"},
		{name: "concurrency too high", params: Params{"urls": []string{"https://example.com"}, "concurrency": 20}, wantErr: "concurrency"},
		{name: "concurrency valid", params: Params{"urls": []string{"https://example.com"}, "concurrency": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateParams(tt.params)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateParams() error = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateParams() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantErr)
			}
		})
	}
}

func TestCrawlStrategy_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, samplePage)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "Plain text docs.")
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "\x00\x01")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewCrawlStrategy()

	t.Run("mixed content types", func(t *testing.T) {
		params := Params{"urls": []string{srv.URL + "/page", srv.URL + "/plain"}}

		var chunks []Chunk
		err := s.Run(context.Background(), Source{}, params, nil, func(c Chunk) error {
			chunks = append(chunks, c)
			return nil
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}

		byURL := map[string]Chunk{}
		for _, c := range chunks {
			byURL[c.Metadata["url"].(string)] = c
		}
		if c, ok := byURL[srv.URL+"/page"]; !ok || c.Metadata["title"] != "Install Guide" {
			t.Errorf("html page chunk = %+v", c)
		}
		if c, ok := byURL[srv.URL+"/plain"]; !ok || c.Content != "Plain text docs." {
			t.Errorf("plain text chunk = %+v", c)
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		params := Params{"urls": []string{srv.URL + "/page", srv.URL + "/gone", srv.URL + "/binary"}}

		err := s.Run(context.Background(), Source{}, params, nil, func(Chunk) error { return nil })
		partial, ok := err.(*PartialError)
		if !ok {
			t.Fatalf("Run() error = %v, want *PartialError", err)
		}
		if partial.Details.Stage != "crawl" {
			t.Errorf("Details.Stage = %q, want crawl", partial.Details.Stage)
		}
		if len(partial.Details.Items) != 2 {
			t.Errorf("Details.Items = %v, want 2 failed URLs", partial.Details.Items)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		params := Params{"urls": []string{srv.URL + "/gone"}}

		err := s.Run(context.Background(), Source{}, params, nil, func(Chunk) error { return nil })
		var serr *StrategyError
		if !errors.As(err, &serr) {
			t.Fatalf("Run() error = %v, want *StrategyError", err)
		}
		if len(serr.Details.Items) != 1 {
			t.Errorf("Details.Items = %v", serr.Details.Items)
		}
	})

	t.Run("cancelled mid-run", func(t *testing.T) {
		params := Params{"urls": []string{srv.URL + "/page", srv.URL + "/plain"}, "concurrency": 1}

		err := s.Run(context.Background(), Source{}, params, nil, func(Chunk) error { return ErrCancelled })
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Run() error = %v, want ErrCancelled", err)
		}
	})
}
