// Package monitor renders a terminal dashboard over the gated daemon's
// status API: queue occupancy, run outcomes, and the active policy.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard model.
type Model struct {
	daemonURL  string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   StatusSnapshot
	err        error
	quitting   bool

	// Ring buffers for the sparklines.
	queuedHistory   []float64
	inflightHistory []float64
	totalHistory    []float64

	// queuedPeak scales the load bar; it only grows.
	queuedPeak    float64
	queueProgress progress.Model

	// throughput is archived runs per minute, derived from consecutive
	// total counts.
	throughput float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model polling the daemon at daemonURL.
func NewModel(daemonURL string, interval time.Duration) Model {
	return Model{
		daemonURL: daemonURL,
		interval:  interval,
		queueProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		queuedHistory:   make([]float64, 0, historySize),
		inflightHistory: make([]float64, 0, historySize),
		totalHistory:    make([]float64, 0, historySize),
		// Minimum peak to avoid division by zero.
		queuedPeak: 1.0,
	}
}

// queueBadge reflects queue pressure.
func queueBadge(queued int) string {
	if queued < 5 {
		return healthyStyle.Render("[✓]")
	} else if queued < 20 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// statusBadge is the overall daemon state for the header line.
func statusBadge(queued int) string {
	if queued < 5 {
		return healthyStyle.Render("✓ HEALTHY")
	} else if queued < 20 {
		return warningStyle.Render("⚠ BUSY")
	}
	return errorStyle.Render("✗ BACKED UP")
}

// outcomeStyle maps a terminal outcome to its display style.
func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "ready":
		return healthyStyle
	case "needs-rework":
		return warningStyle
	case "blocked":
		return errorStyle
	default:
		return dimStyle
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type statusMsg StatusSnapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.daemonURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus polls the daemon status endpoint.
func fetchStatus(daemonURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snapshot, err := NewStatusClient(daemonURL).Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(snapshot)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.daemonURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.daemonURL),
		)

	case statusMsg:
		snapshot := StatusSnapshot(msg)
		if delta := snapshot.Total() - m.snapshot.Total(); delta > 0 && !m.lastUpdate.IsZero() {
			m.throughput = float64(delta) / m.interval.Minutes()
		} else if delta == 0 {
			m.throughput = 0
		}
		m.queuedHistory = appendToHistory(m.queuedHistory, float64(snapshot.Queue.Queued))
		m.inflightHistory = appendToHistory(m.inflightHistory, float64(snapshot.Queue.Inflight))
		m.totalHistory = appendToHistory(m.totalHistory, float64(snapshot.Total()))
		if float64(snapshot.Queue.Queued) > m.queuedPeak {
			m.queuedPeak = float64(snapshot.Queue.Queued)
		}
		m.snapshot = snapshot
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("gated Pipeline Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to gated daemon") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.daemonURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. The daemon is running (gated)") + "\n"
	content += dimStyle.Render("  2. The URL matches its server.host and server.http_port") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main dashboard view with sparklines and the
// queue load bar.
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" gated Monitor ")
	headerLine := fmt.Sprintf("%s   %s %s   %s",
		statusBadge(m.snapshot.Queue.Queued),
		dimStyle.Render("Daemon:"),
		valueStyle.Render(versionOrUnknown(m.snapshot.Version)),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Queue section
	content += "\n" + sectionStyle.Render("┃ Queue") + "\n"

	content += labelStyle.Render("  Queued: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Queue.Queued)) +
		" " + queueBadge(m.snapshot.Queue.Queued) +
		"   " + createSparkline(m.queuedHistory) + "\n"

	content += labelStyle.Render("  Inflight: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Queue.Inflight)) +
		"       " + createSparkline(m.inflightHistory) + "\n"

	loadPercent := float64(m.snapshot.Queue.Queued) / m.queuedPeak
	if loadPercent > 1.0 {
		loadPercent = 1.0
	}
	content += labelStyle.Render("  Load: ") +
		m.queueProgress.ViewAs(loadPercent) +
		" " + dimStyle.Render(FormatPercentage(loadPercent)) + "\n"

	// Outcomes section
	content += "\n" + sectionStyle.Render("┃ Run Outcomes") + "\n"

	for _, outcome := range []string{"ready", "needs-rework", "blocked", "cancelled"} {
		count := m.snapshot.Runs[outcome]
		content += labelStyle.Render(fmt.Sprintf("  %-13s", outcome+":")) +
			outcomeStyle(outcome).Render(fmt.Sprintf("%5d", count)) + "\n"
	}
	content += labelStyle.Render("  total:        ") +
		valueStyle.Render(fmt.Sprintf("%5d", m.snapshot.Total())) +
		"   " + createSparkline(m.totalHistory) + "\n"
	content += labelStyle.Render("  throughput:   ") +
		valueStyle.Render(FormatRate(m.throughput)) + "\n"

	// Policy section
	content += "\n" + sectionStyle.Render("┃ Policy") + "\n"
	content += labelStyle.Render("  Environment: ") +
		valueStyle.Render(versionOrUnknown(m.snapshot.Policy.Environment)) + "\n"
	content += labelStyle.Render("  Stages: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Policy.Stages)) + "\n"
	if len(m.snapshot.Policy.Phases) > 0 {
		content += labelStyle.Render("  Phases: ") +
			dimStyle.Render(strings.Join(m.snapshot.Policy.Phases, " → ")) + "\n"
	}

	content += footerStyle.Render("\n[q] quit  [r] refresh") + "\n"

	return containerStyle.Render(content)
}

func versionOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
