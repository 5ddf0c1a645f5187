package models

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/stackctl/pkg/tui"
	"github.com/go-go-golems/stackctl/pkg/tui/styles"
)

const maxEventEntries = 500

type EventLogModel struct {
	entries []tui.EventLogEntry

	vp    viewport.Model
	ready bool

	// errorsOnly hides info/debug entries when set.
	errorsOnly bool
}

func NewEventLogModel() EventLogModel {
	return EventLogModel{}
}

func (m EventLogModel) Append(entry tui.EventLogEntry) EventLogModel {
	m.entries = append(m.entries, entry)
	if len(m.entries) > maxEventEntries {
		m.entries = m.entries[len(m.entries)-maxEventEntries:]
	}
	if m.ready {
		atBottom := m.vp.AtBottom()
		m.vp.SetContent(m.render())
		if atBottom {
			m.vp.GotoBottom()
		}
	}
	return m
}

func (m EventLogModel) Update(msg tea.Msg) (EventLogModel, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(v.Width, v.Height-4)
			m.ready = true
		} else {
			m.vp.Width = v.Width
			m.vp.Height = v.Height - 4
		}
		m.vp.SetContent(m.render())
		m.vp.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if v.String() == "e" {
			m.errorsOnly = !m.errorsOnly
			if m.ready {
				m.vp.SetContent(m.render())
				m.vp.GotoBottom()
			}
			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m EventLogModel) View() string {
	if !m.ready {
		return "Waiting for terminal size...\n"
	}
	filter := "all"
	if m.errorsOnly {
		filter = "errors"
	}
	header := fmt.Sprintf("Events (%d, showing %s — press e to toggle)\n", len(m.entries), filter)
	return header + m.vp.View()
}

func (m EventLogModel) render() string {
	theme := styles.DefaultTheme()
	var b strings.Builder
	for _, e := range m.entries {
		if m.errorsOnly && e.Level != tui.LogLevelError && e.Level != tui.LogLevelWarn {
			continue
		}
		line := fmt.Sprintf("%s %s [%s] %s",
			e.At.Format("15:04:05"),
			styles.LogLevelIcon(string(e.Level)),
			e.Source,
			e.Text)
		switch e.Level {
		case tui.LogLevelError:
			line = theme.StatusDead.Render(line)
		case tui.LogLevelWarn:
			line = theme.StatusPending.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "(no events yet)"
	}
	return b.String()
}
