package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs <collection> [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List a collection's ingestion jobs or inspect a specific job by ID.

Examples:
  docpipe jobs notes                 # List jobs in the notes collection
  docpipe jobs notes --status failed # Only failed jobs
  docpipe jobs notes 4fa1c3...       # Show details for one job`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending/processing/completed/failed/cancelled)")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 2 {
		return showJob(ctx, args[0], args[1])
	}
	return listJobs(ctx, args[0])
}

func listJobs(ctx context.Context, collection string) error {
	jobs, err := apiClient.ListJobs(ctx, collection, jobsStatus, 50, 0)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-12s %-12s %-10s %s\n", "ID", "STRATEGY", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.Progress.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress.Current, job.Progress.Total)
		}
		fmt.Printf("%-36s %-12s %-12s %-10s %s\n",
			job.ID, job.Strategy, job.Status, progress, job.CreatedAt.Format("15:04:05"))
	}

	return nil
}

func showJob(ctx context.Context, collection, id string) error {
	job, err := apiClient.GetJob(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Source: %s\n", job.Source)
	fmt.Printf("  Strategy: %s\n", job.Strategy)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Progress.Total > 0 {
		fmt.Printf("  Progress: %d/%d", job.Progress.Current, job.Progress.Total)
		if job.Progress.Percentage != nil {
			fmt.Printf(" (%.0f%%)", *job.Progress.Percentage)
		}
		fmt.Println()
	}
	if job.Progress.Message != "" {
		fmt.Printf("  Last update: %s\n", job.Progress.Message)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.ProcessingStartedAt != nil {
		fmt.Printf("  Started: %s\n", job.ProcessingStartedAt.Format(time.RFC3339))
	}
	if job.ProcessingCompletedAt != nil {
		fmt.Printf("  Finished: %s\n", job.ProcessingCompletedAt.Format(time.RFC3339))
	}
	if job.DurationSeconds != nil {
		fmt.Printf("  Duration: %s\n", (time.Duration(*job.DurationSeconds * float64(time.Second))).Round(time.Second))
	}
	if job.ChunkCount > 0 {
		fmt.Printf("  Chunks: %d\n", job.ChunkCount)
	}
	if job.RetriedCount > 0 {
		fmt.Printf("  Retries: %d\n", job.RetriedCount)
	}

	if job.Error != nil {
		if job.Error.Message != "" {
			fmt.Printf("  Error: %s\n", job.Error.Message)
		}
		if stage, ok := job.Error.Details["stage"].(string); ok {
			fmt.Printf("  Failed stage: %s\n", stage)
		}
		if items, ok := job.Error.Details["items_failed"].(map[string]any); ok && len(items) > 0 {
			fmt.Printf("  Failed items (%d):\n", len(items))
			for item, msg := range items {
				fmt.Printf("    - %s: %v\n", item, msg)
			}
		}
	}

	return nil
}
