// Package tui renders a live progress monitor for a capture session in
// the terminal.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabtriage/internal/progress"
)

// --- Messages ---

type tickMsg time.Time

type progressMsg struct {
	snap progress.Snapshot
	err  error
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	phaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	barFilled  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	barEmpty   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

const barWidth = 40

// Model polls the backend's progress endpoint once a second and quits
// when the session finishes.
type Model struct {
	baseURL   string
	sessionID int64
	client    *http.Client

	snap    progress.Snapshot
	err     error
	started time.Time
	done    bool
}

func NewModel(baseURL string, sessionID int64) Model {
	return Model{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		client:    &http.Client{Timeout: 5 * time.Second},
		started:   time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Msg {
	url := fmt.Sprintf("%s/api/capture/%d/progress", m.baseURL, m.sessionID)
	resp, err := m.client.Get(url)
	if err != nil {
		return progressMsg{err: err}
	}
	defer resp.Body.Close()

	var snap progress.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return progressMsg{err: err}
	}
	return progressMsg{snap: snap}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, tea.Quit
		}
		return m, tea.Batch(m.fetch, tick())

	case progressMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.snap = msg.snap
		if msg.snap.Phase == progress.PhaseDone {
			// Render the final frame, quit on the next tick.
			m.done = true
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", titleStyle.Render(fmt.Sprintf("Session %d", m.sessionID)))

	if m.err != nil {
		fmt.Fprintf(&b, "%s\n\n", errStyle.Render("backend unreachable: "+m.err.Error()))
	}

	switch m.snap.Phase {
	case progress.PhaseSummarizing:
		fmt.Fprintf(&b, "%s  %d/%d tabs\n", phaseStyle.Render("summarizing"), m.snap.Completed, m.snap.Total)
	case progress.PhaseClustering:
		fmt.Fprintf(&b, "%s\n", phaseStyle.Render("clustering"))
	case progress.PhaseDone:
		noun := "clusters"
		if m.snap.Clusters == 1 {
			noun = "cluster"
		}
		fmt.Fprintf(&b, "%s  %d tabs, %d %s\n",
			doneStyle.Render("done"), m.snap.Total, m.snap.Clusters, noun)
	default:
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("waiting..."))
	}

	b.WriteString("\n" + renderBar(m.snap) + "\n\n")
	fmt.Fprintf(&b, "%s\n", dimStyle.Render(
		fmt.Sprintf("elapsed %s — q to quit", time.Since(m.started).Round(time.Second))))
	return b.String()
}

func renderBar(s progress.Snapshot) string {
	frac := 0.0
	switch {
	case s.Phase == progress.PhaseDone:
		frac = 1.0
	case s.Phase == progress.PhaseClustering:
		frac = 0.95
	case s.Total > 0:
		// Leave headroom for the clustering phase.
		frac = 0.9 * float64(s.Completed) / float64(s.Total)
	}

	filled := int(frac * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", barWidth-filled))
}

// Run blocks until the watched session finishes or the user quits.
func Run(baseURL string, sessionID int64) error {
	p := tea.NewProgram(NewModel(baseURL, sessionID))
	_, err := p.Run()
	return err
}
