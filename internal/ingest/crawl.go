package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/raphaelgruber/docpipe/internal/models"
)

const (
	stageCrawl = "crawl"

	defaultCrawlConcurrency = 4
	maxCrawlConcurrency     = 8
	maxCrawlBodyBytes       = 5 << 20
)

// CrawlStrategy fetches a list of URLs and chunks each page's extracted
// text. Fetches fan out internally up to a bounded concurrency; chunk
// emission and progress reporting stay on the calling goroutine.
//
// One failed URL out of several is recorded per item and the job still
// completes; the job fails only when every URL fails.
type CrawlStrategy struct {
	client *http.Client
}

func NewCrawlStrategy() *CrawlStrategy {
	return &CrawlStrategy{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *CrawlStrategy) Name() string { return "crawl" }

func (s *CrawlStrategy) ValidateParams(params Params) error {
	urls := params.StringSlice("urls")
	if len(urls) == 0 {
		return &ValidationError{Field: "urls", Message: "at least one URL is required"}
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{
				Field:   "urls",
				Message: fmt.Sprintf("%q is not a valid http(s) URL", raw),
			}
		}
	}
	if c, present := params["concurrency"]; present {
		if n := params.Int("concurrency", 0); n < 1 || n > maxCrawlConcurrency {
			return &ValidationError{
				Field:   "concurrency",
				Message: fmt.Sprintf("must be between 1 and %d, got %v", maxCrawlConcurrency, c),
			}
		}
	}
	return validateChunkParams(params)
}

type pageResult struct {
	url   string
	title string
	text  string
	err   error
}

func (s *CrawlStrategy) Run(ctx context.Context, src Source, params Params, rep *Reporter, emit EmitFunc) error {
	urls := params.StringSlice("urls")
	concurrency := params.Int("concurrency", defaultCrawlConcurrency)
	if concurrency > len(urls) {
		concurrency = len(urls)
	}
	cfg := ChunkConfigFromParams(params)

	total := len(urls)
	rep.Report(0, total, fmt.Sprintf("crawling %d URLs", total))

	jobs := make(chan string)
	results := make(chan pageResult)

	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				results <- s.fetchPage(fetchCtx, u)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, u := range urls {
			select {
			case jobs <- u:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	failures := make(map[string]string)
	done := 0
	succeeded := 0

	for res := range results {
		done++
		if res.err != nil {
			failures[res.url] = res.err.Error()
			rep.Report(done, total, fmt.Sprintf("failed %s: %v", res.url, res.err))
			continue
		}

		for _, piece := range ChunkText(res.text, cfg) {
			meta := map[string]any{"url": res.url}
			if res.title != "" {
				meta["title"] = res.title
			}
			if err := emit(Chunk{Content: piece.Content, Metadata: meta}); err != nil {
				stopFetch()
				for range results {
					// drain so fetchers can exit
				}
				return err
			}
		}

		succeeded++
		rep.Report(done, total, fmt.Sprintf("crawled %s (%d/%d)", res.url, done, total))
	}

	if succeeded == 0 {
		serr := NewStrategyError(stageCrawl, fmt.Sprintf("all %d URLs failed", total))
		serr.Details.Items = failures
		return serr
	}
	if len(failures) > 0 {
		return &PartialError{
			Message: fmt.Sprintf("%d of %d URLs failed", len(failures), total),
			Details: models.ErrorDetails{Stage: stageCrawl, Items: failures},
		}
	}
	return nil
}

func (s *CrawlStrategy) fetchPage(ctx context.Context, pageURL string) pageResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pageResult{url: pageURL, err: err}
	}
	req.Header.Set("User-Agent", "docpipe/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return pageResult{url: pageURL, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pageResult{url: pageURL, err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCrawlBodyBytes))
	if err != nil {
		return pageResult{url: pageURL, err: fmt.Errorf("read body: %w", err)}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text := htmlToText(string(body))
		if strings.TrimSpace(text) == "" {
			return pageResult{url: pageURL, err: fmt.Errorf("page has no extractable text")}
		}
		return pageResult{url: pageURL, title: title, text: text}
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/markdown":
		return pageResult{url: pageURL, text: string(body)}
	default:
		return pageResult{url: pageURL, err: fmt.Errorf("unsupported content type %q", mediaType)}
	}
}

// htmlToText extracts the page title and readable text, dropping script,
// style, and navigation subtrees and inserting paragraph breaks at block
// element boundaries.
func htmlToText(page string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", ""
	}

	skip := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "header": true, "footer": true, "iframe": true,
	}
	block := map[string]bool{
		"p": true, "div": true, "section": true, "article": true,
		"li": true, "br": true, "h1": true, "h2": true, "h3": true,
		"h4": true, "h5": true, "h6": true, "tr": true, "blockquote": true,
		"pre": true,
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skip[n.Data] {
				return
			}
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && block[n.Data] {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	return title, collapseBlankLines(sb.String())
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
