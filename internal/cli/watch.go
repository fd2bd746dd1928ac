package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/docpipe/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch <collection> <job-id>",
	Short: "Watch a job's progress",
	Long: `Watch an ingestion job with a live progress bar, polling the server at
its advertised interval. Falls back to plain line output when stdout is
not a terminal.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		job, err := apiClient.GetJob(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return watchJob(args[0], job)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watchJob picks the right watcher for the output device.
func watchJob(collection string, job *client.Job) error {
	interval, err := apiClient.PollInterval(context.Background())
	if err != nil {
		interval = 3 * time.Second
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runJobProgress(apiClient, collection, job, interval)
	}
	return watchPlain(collection, job, interval)
}

// watchPlain polls and prints one line per change, for pipes and CI logs.
func watchPlain(collection string, job *client.Job, interval time.Duration) error {
	ctx := context.Background()
	lastMessage := ""

	for {
		if job.Progress.Message != lastMessage || job.Terminal() {
			lastMessage = job.Progress.Message
			fmt.Printf("[%s] %d/%d %s\n", job.Status, job.Progress.Current, job.Progress.Total, job.Progress.Message)
		}
		if job.Terminal() {
			break
		}

		time.Sleep(interval)

		var err error
		job, err = apiClient.GetJob(ctx, collection, job.ID)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
	}

	if job.Status == "failed" && job.Error != nil {
		return fmt.Errorf("job failed: %s", job.Error.Message)
	}
	return nil
}

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *client.Job
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	client     *client.Client
	collection string
	jobID      string
	job        *client.Job
	interval   time.Duration
	progress   progress.Model
	theme      Theme
	done       bool
	quitting   bool
	err        error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, collection string, job *client.Job, interval time.Duration) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:     c,
		collection: collection,
		jobID:      job.ID,
		job:        job,
		interval:   interval,
		progress:   prog,
		theme:      defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		if m.job.Terminal() {
			m.done = true
			if m.job.Status == "failed" && m.job.Error != nil {
				m.err = fmt.Errorf("%s", m.job.Error.Message)
			}
			return m, tea.Quit
		}

		return m, m.tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	var pct float64
	if m.job.Progress.Total > 0 {
		pct = float64(m.job.Progress.Current) / float64(m.job.Progress.Total)
		if pct > 1 {
			pct = 1
		}
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d", m.job.Progress.Current, m.job.Progress.Total)

	line := fmt.Sprintf("%s %s %s\n", status, progressBar, counts)
	if m.job.Progress.Message != "" {
		line += m.theme.hintStyle().Render(m.job.Progress.Message) + "\n"
	}
	line += m.theme.hintStyle().Render("Press Ctrl+C to continue in background") + "\n"
	return line
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues on the server.\nUse 'docpipe jobs %s %s' to check status.\n",
			m.jobID, m.collection, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil {
		switch m.job.Status {
		case "cancelled":
			return m.theme.hintStyle().Render(
				fmt.Sprintf("\nJob cancelled (%d chunks inserted before the checkpoint).\n", m.job.ChunkCount))
		case "completed":
			out := m.theme.completedStyle().Render("✓ Completed") + "\n\n"
			out += fmt.Sprintf("  Chunks inserted: %d\n", m.job.ChunkCount)
			if m.job.DurationSeconds != nil {
				out += fmt.Sprintf("  Duration: %s\n",
					(time.Duration(*m.job.DurationSeconds * float64(time.Second))).Round(time.Second))
			}
			if m.job.Error != nil && len(m.job.Error.Details) > 0 {
				if items, ok := m.job.Error.Details["items_failed"].(map[string]any); ok && len(items) > 0 {
					out += m.theme.errorStyle().Render(fmt.Sprintf("\nWarnings (%d items failed):\n", len(items)))
					for item, msg := range items {
						out += fmt.Sprintf("  • %s: %v\n", item, msg)
					}
				}
			}
			return out
		}
	}

	return m.theme.completedStyle().Render("✓ Done\n")
}

// fetchJob fetches the current job status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.collection, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func (m progressModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func runJobProgress(c *client.Client, collection string, job *client.Job, interval time.Duration) error {
	model := newProgressModel(c, collection, job, interval)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C leaves the job running server-side - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
