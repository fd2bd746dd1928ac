package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	retryParams []string
	retryWatch  bool
)

var retryCmd = &cobra.Command{
	Use:   "retry <collection> <job-id>",
	Short: "Retry a failed or cancelled job",
	Long: `Retry a failed or cancelled job. The job returns to the queue with its
progress, error, and previously inserted chunks scrubbed.

Pass -p to override strategy parameters for the retry, e.g. after a
failure caused by a bad chunk size:

  docpipe retry notes 4fa1c3... -p chunk_max=2000 --watch`,
	Args: cobra.ExactArgs(2),
	RunE: runRetry,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <collection> <job-id>",
	Short: "Cancel a pending or running job",
	Long: `Request cancellation of a pending or running job. Running jobs stop at
the next checkpoint; chunks inserted before that point stay in the
collection and are reported in the job's chunk count.`,
	Args: cobra.ExactArgs(2),
	RunE: runCancel,
}

var statusCmd = &cobra.Command{
	Use:   "status <collection>",
	Short: "Show ingestion summary for a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	retryCmd.Flags().StringArrayVarP(&retryParams, "param", "p", nil, "override strategy parameter (key=value, repeatable)")
	retryCmd.Flags().BoolVarP(&retryWatch, "watch", "w", false, "watch the retried job's progress")
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	collection, jobID := args[0], args[1]

	var override map[string]any
	if len(retryParams) > 0 {
		override = make(map[string]any, len(retryParams))
		for _, p := range retryParams {
			key, value, found := strings.Cut(p, "=")
			if !found || key == "" {
				return fmt.Errorf("invalid parameter %q, expected key=value", p)
			}
			override[key] = coerceParam(value)
		}
	}

	job, err := apiClient.Retry(ctx, collection, jobID, override)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}

	fmt.Printf("Job %s requeued (attempt %d)\n", job.ID, job.RetriedCount+1)

	if retryWatch {
		return watchJob(collection, job)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	job, err := apiClient.Cancel(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}

	switch job.Status {
	case "cancelled":
		fmt.Printf("Job %s cancelled\n", job.ID)
	default:
		fmt.Printf("Cancellation requested for job %s, stopping at the next checkpoint\n", job.ID)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	summary, err := apiClient.Summary(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get summary: %w", err)
	}

	fmt.Printf("Collection: %s\n", args[0])
	fmt.Printf("Total jobs: %d\n", summary.Total)

	for _, status := range []string{"pending", "processing", "completed", "failed", "cancelled"} {
		if count := summary.ByStatus[status]; count > 0 {
			fmt.Printf("  %-12s %d\n", status, count)
		}
	}

	if len(summary.RecentFailures) > 0 {
		fmt.Printf("\nRecent failures:\n")
		for _, f := range summary.RecentFailures {
			id, _ := f["id"].(string)
			source, _ := f["source"].(string)
			msg, _ := f["message"].(string)
			fmt.Printf("  %s  %s\n", id, source)
			if msg != "" {
				fmt.Printf("    %s\n", msg)
			}
		}
	}

	return nil
}
