package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	tabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("245"))

	activeTabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderTitle())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.tables[m.active].View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	return b.String()
}

func (m Model) renderTitle() string {
	conn := downStyle.Render("○ reconnecting")
	if m.connected {
		conn = liveStyle.Render("● live")
	}
	return titleStyle.Render("AgentWatch") + " " + statusStyle.Render(m.version) + "  " + conn
}

func (m Model) renderTabs() string {
	counts := [tabCount]int{
		len(m.snap.Agents),
		len(m.snap.Repos),
		len(m.snap.Ports),
		len(m.snap.Sessions),
	}
	var parts []string
	for t := tab(0); t < tabCount; t++ {
		label := fmt.Sprintf("%d %s (%d)", int(t)+1, tabTitles[t], counts[t])
		if t == m.active {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) renderStatus() string {
	help := "tab: switch   j/k: scroll   r: refresh   q: quit"

	if m.lastErr != nil {
		return errorStyle.Render("error: "+m.lastErr.Error()) + "\n" + statusStyle.Render(help)
	}

	line := help
	if u := m.lastUsage; u != nil {
		mark := "ok"
		if !u.Success {
			mark = "failed"
		}
		line = fmt.Sprintf("last tool: %s %s %dms   %s", u.ToolName, mark, u.DurationMs, help)
	}
	return statusStyle.Render(line)
}
