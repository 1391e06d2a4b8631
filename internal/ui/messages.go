package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ngmaloney/marine-depth/internal/realtime"
)

// eventMsg carries one distributor event into the model.
type eventMsg realtime.Event

// streamClosedMsg is sent when the event channel is closed.
type streamClosedMsg struct{}

// statusTickMsg asks the model to refresh the distributor status.
type statusTickMsg time.Time

// waitForEvent blocks on the listener channel for the next event.
func waitForEvent(events <-chan realtime.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func tickStatus(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}
