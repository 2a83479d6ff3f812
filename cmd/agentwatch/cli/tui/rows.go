package tui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
)

// Row builders render the snapshot into table cells. Missing fields
// become dashes; a half-filled record must still produce a full row.

func agentRows(agents []Agent) []table.Row {
	rows := make([]table.Row, 0, len(agents))
	for _, a := range agents {
		where := a.RepoRoot
		if where == "" {
			where = a.Cwd
		}
		rows = append(rows, table.Row{
			strconv.Itoa(int(a.PID)),
			dash(a.Label),
			dash(a.State),
			fmt.Sprintf("%.1f", a.CPUPercent),
			fmtMem(a.MemoryKB),
			fmtQuiet(a.QuietSeconds),
			dash(shortenHome(where)),
		})
	}
	return rows
}

func repoRows(repos []Repo) []table.Row {
	rows := make([]table.Row, 0, len(repos))
	for _, r := range repos {
		rows = append(rows, table.Row{
			dash(r.Name),
			dash(r.Branch),
			strconv.Itoa(r.Staged),
			strconv.Itoa(r.Unstaged),
			strconv.Itoa(r.Untracked),
			repoStatus(r),
		})
	}
	return rows
}

func repoStatus(r Repo) string {
	var parts []string
	if !r.Dirty {
		parts = append(parts, "clean")
	}
	if r.Flags.Conflict {
		parts = append(parts, "conflict!")
	}
	if r.Flags.Rebase {
		parts = append(parts, "rebase")
	}
	if r.Flags.Merge {
		parts = append(parts, "merge")
	}
	if r.Flags.CherryPick {
		parts = append(parts, "cherry-pick")
	}
	if r.Flags.Revert {
		parts = append(parts, "revert")
	}
	if up := r.Upstream; up != nil && (up.Ahead > 0 || up.Behind > 0) {
		parts = append(parts, fmt.Sprintf("ahead %d behind %d", up.Ahead, up.Behind))
	}
	if r.LastError != "" {
		parts = append(parts, "scan error")
	}
	if len(parts) == 0 {
		return "dirty"
	}
	return strings.Join(parts, " ")
}

func portRows(ports []Port) []table.Row {
	rows := make([]table.Row, 0, len(ports))
	for _, p := range ports {
		agent := "-"
		if p.AgentLabel != "" {
			agent = fmt.Sprintf("%s (pid %d)", p.AgentLabel, p.AgentPID)
		}
		rows = append(rows, table.Row{
			strconv.Itoa(p.Port),
			strconv.Itoa(int(p.PID)),
			dash(p.Process),
			dash(p.Protocol),
			dash(p.Address),
			agent,
		})
	}
	return rows
}

func sessionRows(sessions []Session, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, table.Row{
			truncate(s.SessionID, 10),
			dash(s.AgentLabel),
			sessionStatus(s),
			strconv.Itoa(s.ToolCount),
			pricing.FormatTokens(s.TotalInputTokens + s.TotalOutputTokens),
			dash(s.CostDisplay),
			fmtAgo(s.LastActivity, now),
			dash(shortenHome(s.Cwd)),
		})
	}
	return rows
}

func sessionStatus(s Session) string {
	switch {
	case s.AwaitingInput:
		return "waiting"
	case s.Active:
		return "active"
	default:
		return "ended"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

func fmtMem(kb uint64) string {
	switch {
	case kb == 0:
		return "-"
	case kb < 1024:
		return fmt.Sprintf("%dK", kb)
	case kb < 1024*1024:
		return fmt.Sprintf("%dM", kb/1024)
	default:
		return fmt.Sprintf("%.1fG", float64(kb)/(1024*1024))
	}
}

func fmtQuiet(secs int) string {
	if secs <= 0 {
		return "-"
	}
	return (time.Duration(secs) * time.Second).String()
}

// fmtAgo renders a coarse relative age. Sub-minute precision is noise
// at a glance, so everything under a minute reads "now".
func fmtAgo(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func shortenHome(path string) string {
	if path == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}
