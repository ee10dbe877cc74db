package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"atlasforge/internal/domain"
	forgeapi "atlasforge/pkg/forge"
)

// Styles.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	passStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	cancelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.JobCompleted:
		return doneStyle
	case domain.JobCancelled:
		return cancelStyle
	case domain.JobFailed:
		return errStyle
	default:
		return runningStyle
	}
}

// Messages.
type tickMsg time.Time

type jobMsg struct {
	job *domain.Job
	err error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	client *forgeapi.Client
	jobID  string
	job    *domain.Job
	err    error
	bar    progress.Model
	width  int
}

func (m model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		job, err := m.client.GetJob(ctx, m.jobID)
		return jobMsg{job: job, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "x":
			// Request cancellation of the watched job.
			client, jobID := m.client, m.jobID
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				client.CancelJob(ctx, jobID)
				return nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(msg.Width-8, 60)

	case tickMsg:
		if m.job != nil && m.job.Status.Terminal() {
			return m, tea.Quit
		}
		return m, tea.Batch(m.fetchCmd(), tickCmd())

	case jobMsg:
		m.job = msg.job
		m.err = msg.err
	}
	return m, nil
}

func (m model) View() string {
	var b []byte
	b = fmt.Appendf(b, "%s\n\n", titleStyle.Render("forge job "+m.jobID))

	if m.err != nil {
		b = fmt.Appendf(b, "%s\n", errStyle.Render("error: "+m.err.Error()))
		return string(b)
	}
	if m.job == nil {
		b = fmt.Appendf(b, "%s\n", labelStyle.Render("connecting..."))
		return string(b)
	}

	job := m.job
	pct := 0.0
	if job.TotalBranches > 0 {
		pct = float64(job.CompletedBranches) / float64(job.TotalBranches)
	}

	b = fmt.Appendf(b, "%s %s\n\n", labelStyle.Render("status:"), statusStyle(job.Status).Render(string(job.Status)))
	b = fmt.Appendf(b, "%s\n\n", m.bar.ViewAs(pct))
	b = fmt.Appendf(b, "%s %s / %s\n",
		labelStyle.Render("branches:"),
		valueStyle.Render(fmt.Sprintf("%d", job.CompletedBranches)),
		valueStyle.Render(fmt.Sprintf("%d", job.TotalBranches)))
	b = fmt.Appendf(b, "%s %s\n",
		labelStyle.Render("passing: "),
		passStyle.Render(fmt.Sprintf("%d", job.PassingBranches)))
	if job.ErroredBranches > 0 {
		b = fmt.Appendf(b, "%s %s\n",
			labelStyle.Render("errored: "),
			errStyle.Render(fmt.Sprintf("%d", job.ErroredBranches)))
	}
	if !job.StartedAt.IsZero() {
		elapsed := time.Since(job.StartedAt).Round(time.Second)
		if job.Status.Terminal() && !job.FinishedAt.IsZero() {
			elapsed = job.FinishedAt.Sub(job.StartedAt).Round(time.Second)
		}
		b = fmt.Appendf(b, "%s %s\n", labelStyle.Render("elapsed: "), valueStyle.Render(elapsed.String()))
	}
	b = fmt.Appendf(b, "\n%s\n", labelStyle.Render("q quit · x cancel job"))
	return string(b)
}

func main() {
	var (
		server = flag.String("server", "http://127.0.0.1:8090", "forge-server base URL")
		jobID  = flag.String("job", "", "job id to watch (default: most recent)")
	)
	flag.Parse()

	client := forgeapi.NewClient(*server)

	id := *jobID
	if id == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		jobs, err := client.ListJobs(ctx, 1)
		cancel()
		if err != nil || len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "no jobs found; pass -job <id>")
			os.Exit(1)
		}
		id = jobs[0].ID
	}

	m := model{
		client: client,
		jobID:  id,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "forge-top: %v\n", err)
		os.Exit(1)
	}
}
