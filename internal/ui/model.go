// Package ui renders download progress in the terminal.
package ui

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// AppState represents the current state of the view
type AppState int

const (
	StateRunning  AppState = iota // Transfers in progress
	StateFinished                 // Run returned without error
	StateError                    // Run returned an error
)

const recentLimit = 6

// Model tracks a single orchestrator run.
type Model struct {
	state  AppState
	width  int
	height int
	err    error

	title string
	total int

	done        int
	transferred int
	failed      int
	recent      []ncei.Outcome

	updates  <-chan ncei.Progress
	result   <-chan error
	closed   bool
	returned bool
	quitting bool
	started  time.Time
	spinner  spinner.Model
	progress progress.Model
}

// NewModel creates a model fed by updates and completed by a single value
// on result. The sender must close updates once the run returns.
func NewModel(title string, total int, updates <-chan ncei.Progress, result <-chan error) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	p := progress.New(progress.WithGradient(string(colorSecondary), string(colorPrimary)))
	p.Width = 50

	return Model{
		state:    StateRunning,
		title:    title,
		total:    total,
		updates:  updates,
		result:   result,
		started:  time.Now(),
		spinner:  s,
		progress: p,
	}
}

// Init starts the spinner and the channel readers
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForProgress(m.updates), waitForDone(m.result))
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width-10, 10), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case progressMsg:
		m.done = msg.Done
		if msg.Total > 0 {
			m.total = msg.Total
		}
		switch {
		case msg.Outcome.Err != nil:
			m.failed++
		case msg.Outcome.Result.Transferred:
			m.transferred++
		}
		m.recent = append(m.recent, msg.Outcome)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
		return m, waitForProgress(m.updates)

	case progressClosedMsg:
		m.closed = true
		return m, m.finish()

	case doneMsg:
		m.returned = true
		m.err = msg.err
		if msg.err != nil {
			m.state = StateError
		}
		return m, m.finish()

	case spinner.TickMsg:
		if m.state != StateRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// finish quits once the run returned and every update has been drained.
func (m *Model) finish() tea.Cmd {
	if !m.closed || !m.returned {
		return nil
	}
	if m.state == StateRunning {
		m.state = StateFinished
	}
	return tea.Quit
}

// Interrupted reports whether the user quit before the run finished.
func (m Model) Interrupted() bool {
	return m.quitting && !(m.closed && m.returned)
}

// Err returns the run's error, if it has returned one.
func (m Model) Err() error {
	return m.err
}

func (m Model) percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

// View renders the UI
func (m Model) View() string {
	var header string
	switch m.state {
	case StateFinished:
		header = successStyle.Render("✓ ") + titleStyle.Render(m.title)
	case StateError:
		header = failureStyle.Render("✗ ") + titleStyle.Render(m.title)
	default:
		header = m.spinner.View() + " " + titleStyle.Render(m.title)
	}

	counts := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Done:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.done, m.total)),
		labelStyle.Render("Transferred:"), valueStyle.Render(fmt.Sprint(m.transferred)),
		labelStyle.Render("Failed:"), m.failedText(),
		labelStyle.Render("Elapsed:"), valueStyle.Render(time.Since(m.started).Round(time.Second).String()),
	)

	sections := []string{
		header,
		"",
		m.progress.ViewAs(m.percent()),
		"",
		counts,
	}

	if len(m.recent) > 0 {
		sections = append(sections, "")
		for _, out := range m.recent {
			sections = append(sections, renderOutcome(out))
		}
	}

	if m.err != nil {
		sections = append(sections, "", failureStyle.Render(m.err.Error()))
	}
	if m.state == StateRunning {
		sections = append(sections, helpStyle.Render("Q: Stop after in-flight transfers"))
	}

	return paneStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) failedText() string {
	if m.failed == 0 {
		return valueStyle.Render("0")
	}
	return failureStyle.Render(fmt.Sprint(m.failed))
}

func renderOutcome(out ncei.Outcome) string {
	name := path.Base(out.Item.URL)
	switch {
	case out.Err != nil:
		return failureStyle.Render("✗ "+name) + " " + mutedStyle.Render(firstLine(out.Err.Error()))
	case out.Result.Transferred:
		return successStyle.Render("↓ " + name)
	default:
		return mutedStyle.Render("= " + name + " (current)")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
