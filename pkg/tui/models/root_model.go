package models

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/stackctl/pkg/tui"
	"github.com/go-go-golems/stackctl/pkg/tui/styles"
)

type ViewID string

const (
	ViewDashboard ViewID = "dashboard"
	ViewEvents    ViewID = "events"
)

// RootModel owns the tab bar and routes messages to the active view. Bus
// payloads (snapshots, event-log lines) always reach their view no matter
// which tab is showing, so switching tabs never loses history.
type RootModel struct {
	width  int
	height int

	active ViewID

	dashboard DashboardModel
	events    EventLogModel

	eventCount int
}

func NewRootModel() RootModel {
	return RootModel{
		active:    ViewDashboard,
		dashboard: NewDashboardModel(),
		events:    NewEventLogModel(),
	}
}

func (m RootModel) Init() tea.Cmd { return nil }

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		var cmd tea.Cmd
		m.events, cmd = m.events.Update(v)
		return m, cmd

	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "1":
			m.active = ViewDashboard
			return m, nil
		case "2":
			m.active = ViewEvents
			return m, nil
		case "tab":
			if m.active == ViewDashboard {
				m.active = ViewEvents
			} else {
				m.active = ViewDashboard
			}
			return m, nil
		}
		if m.active == ViewEvents {
			var cmd tea.Cmd
			m.events, cmd = m.events.Update(v)
			return m, cmd
		}
		return m, nil

	case tui.StateSnapshotMsg:
		m.dashboard = m.dashboard.WithSnapshot(v.Snapshot)
		return m, nil

	case tui.EventLogAppendMsg:
		m.events = m.events.Append(v.Entry)
		m.eventCount++
		return m, nil
	}
	return m, nil
}

func (m RootModel) View() string {
	var b strings.Builder
	b.WriteString(m.tabBar())
	b.WriteString("\n\n")
	switch m.active {
	case ViewEvents:
		b.WriteString(m.events.View())
	default:
		b.WriteString(m.dashboard.View())
	}
	return b.String()
}

func (m RootModel) tabBar() string {
	theme := styles.DefaultTheme()

	tab := func(id ViewID, label string) string {
		if m.active == id {
			return theme.Title.Render("[" + label + "]")
		}
		return theme.TitleMuted.Render(" " + label + " ")
	}

	parts := []string{
		tab(ViewDashboard, "1:dashboard"),
		tab(ViewEvents, "2:events"),
		theme.TitleMuted.Render("(tab switch, q quit)"),
	}
	return strings.Join(parts, "  ")
}
