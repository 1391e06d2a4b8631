// Package ui is the terminal status monitor for the realtime distributor.
package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ngmaloney/marine-depth/internal/realtime"
)

// maxRecent is how many updates the monitor keeps on screen.
const maxRecent = 20

// AppState represents the current state of the monitor
type AppState int

const (
	StateConnecting AppState = iota // Waiting for the first connection
	StateMonitor                    // Live status and updates
	StateError                      // Connection failed for good
)

// ActivePane represents which pane is currently focused
type ActivePane int

const (
	PaneUpdates ActivePane = iota
	PaneSubscriptions
)

// Source is the distributor as the monitor sees it.
type Source interface {
	Connect(ctx context.Context) error
	Status() realtime.Status
	Subscriptions() []realtime.Subscription
	SetBatteryMode(on bool)
}

// Model represents the monitor's state
type Model struct {
	state      AppState
	activePane ActivePane
	width      int
	height     int
	err        error

	source  Source
	events  <-chan realtime.Event
	target  string
	refresh time.Duration

	status    realtime.Status
	recent    []updateRow
	subs      list.Model
	lastError error

	spinner spinner.Model
}

// NewModel creates a monitor over a distributor and one of its listener
// channels. target is the server URL shown in the header.
func NewModel(source Source, events <-chan realtime.Event, target string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := Model{
		state:   StateConnecting,
		source:  source,
		events:  events,
		target:  target,
		refresh: time.Second,
		spinner: s,
		subs:    newSubscriptionList(nil, 0, 0),
	}
	m.status = source.Status()
	if m.status.State == realtime.StateConnected {
		m.state = StateMonitor
	}
	return m
}

// Init starts the spinner, the event pump and the status refresh.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), tickStatus(m.refresh))
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.subs.SetSize(msg.Width-6, max(msg.Height/2, 5))
		return m, nil

	case eventMsg:
		m = m.applyEvent(realtime.Event(msg))
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.events = nil
		m.lastError = errors.New("event stream closed")
		return m, nil

	case statusTickMsg:
		m = m.refreshStatus()
		return m, tickStatus(m.refresh)

	case connectResultMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = StateError
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.state == StateConnecting {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

type connectResultMsg struct{ err error }

func (m Model) reconnect() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		// The session outlives this command; Close on exit ends it.
		return connectResultMsg{err: source.Connect(context.Background())}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	}

	switch m.state {
	case StateError:
		if msg.String() == "r" {
			m.err = nil
			m.state = StateConnecting
			return m, tea.Batch(m.spinner.Tick, m.reconnect())
		}
		return m, nil

	case StateMonitor:
		switch {
		case msg.Type == tea.KeyTab:
			if m.activePane == PaneUpdates {
				m.activePane = PaneSubscriptions
			} else {
				m.activePane = PaneUpdates
			}
			return m, nil
		case msg.String() == "b":
			m.source.SetBatteryMode(!m.status.BatteryMode)
			m = m.refreshStatus()
			return m, nil
		case msg.String() == "c":
			m.recent = nil
			return m, nil
		}
		if m.activePane == PaneSubscriptions {
			var cmd tea.Cmd
			m.subs, cmd = m.subs.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) applyEvent(ev realtime.Event) Model {
	switch ev.Type {
	case realtime.EventDataUpdate, realtime.EventAlertReceived, realtime.EventEmergencyReceived:
		if ev.Update != nil {
			m.recent = append([]updateRow{newUpdateRow(*ev.Update, ev.Type == realtime.EventEmergencyReceived)}, m.recent...)
			if len(m.recent) > maxRecent {
				m.recent = m.recent[:maxRecent]
			}
		}
	case realtime.EventError:
		m.lastError = ev.Err
		if errors.Is(ev.Err, realtime.ErrConnectionFailed) {
			m.err = ev.Err
			m.state = StateError
		}
	}
	return m.refreshStatus()
}

func (m Model) refreshStatus() Model {
	m.status = m.source.Status()
	switch m.status.State {
	case realtime.StateConnected:
		if m.state == StateConnecting {
			m.state = StateMonitor
		}
	case realtime.StateFailed:
		m.state = StateError
		if m.err == nil {
			m.err = realtime.ErrConnectionFailed
		}
	}
	m.subs.SetItems(subscriptionItems(m.source.Subscriptions()))
	return m
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case StateConnecting:
		return m.viewConnecting()
	case StateError:
		return m.viewError()
	case StateMonitor:
		return m.viewMonitor()
	}
	return ""
}

func (m Model) viewConnecting() string {
	title := titleStyle.Render("⚓ Marine Depth Monitor")
	status := mutedStyle.Render(fmt.Sprintf("Connecting to %s (%s)", m.target, m.status.State))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		"",
		title,
		"",
		fmt.Sprintf("%s %s", m.spinner.View(), status),
		"",
		helpStyle.Render("Q: Quit"),
	)
}

func (m Model) viewError() string {
	title := errorStyle.Render("✗ Connection failed")

	errorMsg := "An unknown error occurred"
	if m.err != nil {
		errorMsg = m.err.Error()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		errorMsg,
		"",
		helpStyle.Render("R: Retry • Q: Quit"),
	)
}

func (m Model) viewMonitor() string {
	var sections []string

	sections = append(sections,
		titleStyle.Render("⚓ Marine Depth Monitor")+"  "+mutedStyle.Render(m.target),
		m.renderStatusLine(),
	)

	updatesBox, subsBox := sectionBoxStyle, sectionBoxStyle
	if m.activePane == PaneUpdates {
		updatesBox = activeBoxStyle
	} else {
		subsBox = activeBoxStyle
	}
	width := max(m.width-4, 20)

	sections = append(sections,
		sectionHeaderStyle.Render("RECENT UPDATES"),
		updatesBox.Width(width).Render(m.renderRecent()),
		sectionHeaderStyle.Render(fmt.Sprintf("SUBSCRIPTIONS (%d)", m.status.Subscriptions)),
		subsBox.Width(width).Render(m.subs.View()),
	)

	if m.lastError != nil {
		sections = append(sections, errorStyle.Render("last error: "+m.lastError.Error()))
	}

	sections = append(sections, helpStyle.Render("Tab: Switch panes • B: Battery mode • C: Clear • Q: Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
