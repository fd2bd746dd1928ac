package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docpipe/internal/client"
)

var (
	ingestStrategy string
	ingestFile     string
	ingestURLs     []string
	ingestParams   []string
	ingestWatch    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <collection>",
	Short: "Submit a document for ingestion",
	Long: `Submit a document (or URLs) to a collection's ingestion pipeline.

Strategies:
  document    convert and chunk an uploaded Markdown/plain-text file
  crawl       fetch and chunk a list of URLs
  transcript  fetch WebVTT transcripts and chunk them with timestamps
  enriched    document conversion plus captioned embedded images

Examples:
  docpipe ingest notes --strategy document --file ./design.md --watch
  docpipe ingest docs --strategy crawl --url https://example.com/a --url https://example.com/b
  docpipe ingest talks --strategy transcript --url https://example.com/talk.vtt
  docpipe ingest wiki --strategy enriched --file ./guide.md --param require_captions=true`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestStrategy, "strategy", "s", "document", "ingestion strategy")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "file to upload (document/enriched strategies)")
	ingestCmd.Flags().StringArrayVarP(&ingestURLs, "url", "u", nil, "source URL (repeatable, crawl/transcript strategies)")
	ingestCmd.Flags().StringArrayVarP(&ingestParams, "param", "p", nil, "strategy param as key=value (repeatable)")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "watch progress after submitting")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	collection := args[0]
	ctx := context.Background()

	req := client.SubmitRequest{
		Strategy: ingestStrategy,
		Params:   make(map[string]any),
	}

	for _, kv := range ingestParams {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("malformed --param %q, expected key=value", kv)
		}
		req.Params[key] = coerceParam(value)
	}

	if len(ingestURLs) > 0 {
		urls := make([]any, len(ingestURLs))
		for i, u := range ingestURLs {
			urls[i] = u
		}
		req.Params["urls"] = urls
		req.Source = ingestURLs[0]
		if len(ingestURLs) > 1 {
			req.Source = fmt.Sprintf("%s (+%d more)", ingestURLs[0], len(ingestURLs)-1)
		}
	}

	if ingestFile != "" {
		content, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		req.Content = string(content)
		req.Source = filepath.Base(ingestFile)
	}

	if req.Source == "" {
		return fmt.Errorf("nothing to ingest: provide --file or --url")
	}

	job, err := apiClient.Submit(ctx, collection, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Printf("Job %s created (%s, %s)\n", job.ID, job.Strategy, job.Status)

	if ingestWatch {
		return watchJob(collection, job)
	}

	fmt.Printf("Track it with: docpipe watch %s %s\n", collection, job.ID)
	return nil
}

// coerceParam turns CLI strings into JSON-ish typed values so that
// bool/int params survive the trip.
func coerceParam(value string) any {
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return value
}
