package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// Message types for the background download

// progressMsg is sent for every finished item
type progressMsg ncei.Progress

// progressClosedMsg is sent once the progress channel is closed
type progressClosedMsg struct{}

// doneMsg is sent when the run returns
type doneMsg struct {
	err error
}

// waitForProgress blocks on the next progress update.
func waitForProgress(updates <-chan ncei.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return progressClosedMsg{}
		}
		return progressMsg(p)
	}
}

// waitForDone blocks until the run reports its result.
func waitForDone(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: <-done}
	}
}
