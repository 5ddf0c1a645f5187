package models

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/stackctl/pkg/tui"
	"github.com/go-go-golems/stackctl/pkg/tui/styles"
)

type DashboardModel struct {
	last *tui.StateSnapshot
}

func NewDashboardModel() DashboardModel { return DashboardModel{} }

func (m DashboardModel) WithSnapshot(s tui.StateSnapshot) DashboardModel {
	m.last = &s
	return m
}

func (m DashboardModel) View() string {
	theme := styles.DefaultTheme()

	if m.last == nil {
		return "Loading state...\n"
	}

	s := m.last
	var b strings.Builder

	if s.MarkerPath != "" {
		icon := styles.IconPending
		text := "marker absent (not migrated)"
		style := theme.StatusPending
		if s.MarkerPresent {
			icon = styles.IconSuccess
			text = "marker present (migrated)"
			style = theme.StatusRunning
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %s", icon, text)))
		b.WriteString(theme.TitleMuted.Render("  " + s.MarkerPath))
		b.WriteString("\n\n")
	}

	if !s.Exists {
		b.WriteString("Stack: stopped (no state)\n")
		return b.String()
	}
	if s.Error != "" {
		b.WriteString(theme.StatusDead.Render("Stack: error") + "\n\n" + s.Error + "\n")
		return b.String()
	}
	if s.State == nil {
		b.WriteString("Stack: unknown (state missing)\n")
		return b.String()
	}

	b.WriteString(theme.Title.Render("Stack: running") + "\n")
	b.WriteString(fmt.Sprintf("Profile: %s   Root: %s\n", s.State.Profile, s.Root))
	b.WriteString(fmt.Sprintf("Started: %s\n\n", s.State.CreatedAt.Format("2006-01-02 15:04:05")))

	b.WriteString(fmt.Sprintf("%-14s %-8s %-7s %-10s %-8s %-8s\n",
		"SERVICE", "PID", "ALIVE", "HEALTH", "CPU%", "MEM"))
	for _, svc := range s.State.Services {
		alive := s.Alive != nil && s.Alive[svc.Name]
		aliveText := styles.StatusIcon(alive)
		if svc.OneShot && !alive {
			aliveText = "done"
		}

		healthText := "-"
		if h, ok := s.Health[svc.Name]; ok {
			healthText = styles.HealthIcon(string(h.Status)) + " " + string(h.Status)
		}

		cpu := "-"
		mem := "-"
		if st, ok := s.ProcessStats[svc.PID]; ok && st != nil {
			cpu = fmt.Sprintf("%.1f", st.CPUPercent)
			mem = fmt.Sprintf("%dM", st.MemoryMB)
		}

		b.WriteString(fmt.Sprintf("%-14s %-8d %-7s %-10s %-8s %-8s\n",
			svc.Name, svc.PID, aliveText, healthText, cpu, mem))
	}

	return b.String()
}
