package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/docpipe/internal/models"
)

const (
	stageTranscript = "transcript"

	maxTranscriptBytes = 10 << 20
)

// TranscriptStrategy fetches a WebVTT transcript per video URL, strips cue
// timing and markup, and windows consecutive cues into chunks carrying the
// start time of their first cue.
type TranscriptStrategy struct {
	client *http.Client
}

func NewTranscriptStrategy() *TranscriptStrategy {
	return &TranscriptStrategy{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *TranscriptStrategy) Name() string { return "transcript" }

func (s *TranscriptStrategy) ValidateParams(params Params) error {
	urls := params.StringSlice("urls")
	if len(urls) == 0 {
		return &ValidationError{Field: "urls", Message: "at least one transcript URL is required"}
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
	return validateChunkParams(params)
}

func (s *TranscriptStrategy) Run(ctx context.Context, src Source, params Params, rep *Reporter, emit EmitFunc) error {
	urls := params.StringSlice("urls")
	cfg := ChunkConfigFromParams(params)

	total := len(urls)
	rep.Report(0, total, fmt.Sprintf("fetching %d transcripts", total))

	failures := make(map[string]string)
	succeeded := 0

	for i, videoURL := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}

		cues, err := s.fetchTranscript(ctx, videoURL)
		if err != nil {
			failures[videoURL] = err.Error()
			rep.Report(i+1, total, fmt.Sprintf("failed %s: %v", videoURL, err))
			continue
		}

		for _, window := range windowCues(cues, cfg.TargetSize) {
			if err := emit(Chunk{
				Content: window.text,
				Metadata: map[string]any{
					"video_url":  videoURL,
					"start_time": window.start.Seconds(),
					"end_time":   window.end.Seconds(),
				},
			}); err != nil {
				return err
			}
		}

		succeeded++
		rep.Report(i+1, total, fmt.Sprintf("processed transcript %d/%d", i+1, total))
	}

	if succeeded == 0 {
		serr := NewStrategyError(stageTranscript, fmt.Sprintf("all %d transcripts failed", total))
		serr.Details.Items = failures
		return serr
	}
	if len(failures) > 0 {
		return &PartialError{
			Message: fmt.Sprintf("%d of %d transcripts failed", len(failures), total),
			Details: models.ErrorDetails{Stage: stageTranscript, Items: failures},
		}
	}
	return nil
}

func (s *TranscriptStrategy) fetchTranscript(ctx context.Context, transcriptURL string) ([]vttCue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "docpipe/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	cues, err := parseWebVTT(string(body))
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("transcript has no cues")
	}
	return cues, nil
}

type vttCue struct {
	start time.Duration
	end   time.Duration
	text  string
}

var (
	vttTimingRegex = regexp.MustCompile(`^(\d*:?\d{2}:\d{2}\.\d{3})\s+-->\s+(\d*:?\d{2}:\d{2}\.\d{3})`)
	vttTagRegex    = regexp.MustCompile(`<[^>]*>`)
)

// parseWebVTT reads cues out of WebVTT text, ignoring NOTE/STYLE blocks,
// cue identifiers, and inline markup tags.
func parseWebVTT(content string) ([]vttCue, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || !strings.HasPrefix(strings.TrimPrefix(scanner.Text(), "\uFEFF"), "WEBVTT") {
		return nil, fmt.Errorf("not a WebVTT document")
	}

	var cues []vttCue
	var current *vttCue
	var textLines []string
	inNote := false

	flush := func() {
		if current != nil {
			text := strings.TrimSpace(strings.Join(textLines, " "))
			if text != "" {
				current.text = text
				cues = append(cues, *current)
			}
			current = nil
		}
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.TrimSpace(line) == "" {
			flush()
			inNote = false
			continue
		}
		if inNote {
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			inNote = true
			continue
		}

		if match := vttTimingRegex.FindStringSubmatch(line); len(match) > 0 {
			flush()
			start, err1 := parseVTTTimestamp(match[1])
			end, err2 := parseVTTTimestamp(match[2])
			if err1 != nil || err2 != nil {
				continue
			}
			current = &vttCue{start: start, end: end}
			continue
		}

		if current != nil {
			textLines = append(textLines, vttTagRegex.ReplaceAllString(line, ""))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return cues, nil
}

// parseVTTTimestamp parses "hh:mm:ss.mmm" or "mm:ss.mmm".
func parseVTTTimestamp(ts string) (time.Duration, error) {
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}

	var hours, minutes int
	var seconds float64
	var err error

	idx := 0
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("malformed timestamp %q", ts)
		}
		idx = 1
	}
	if minutes, err = strconv.Atoi(parts[idx]); err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	if seconds, err = strconv.ParseFloat(parts[idx+1], 64); err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), nil
}

type cueWindow struct {
	start time.Duration
	end   time.Duration
	text  string
}

// windowCues merges consecutive cues until the combined text reaches
// targetSize, keeping the first cue's start time for each window.
func windowCues(cues []vttCue, targetSize int) []cueWindow {
	var windows []cueWindow
	var sb strings.Builder
	var start, end time.Duration

	flush := func() {
		if sb.Len() > 0 {
			windows = append(windows, cueWindow{start: start, end: end, text: sb.String()})
			sb.Reset()
		}
	}

	for _, cue := range cues {
		if sb.Len() == 0 {
			start = cue.start
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(cue.text)
		end = cue.end

		if sb.Len() >= targetSize {
			flush()
		}
	}
	flush()

	return windows
}
