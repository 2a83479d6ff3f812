package tui

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	reconnectDelay  = 2 * time.Second
	refreshInterval = 5 * time.Second

	// defaultWidth sizes tables before the first WindowSizeMsg arrives.
	defaultWidth = 100
)

type tab int

const (
	tabAgents tab = iota
	tabRepos
	tabPorts
	tabSessions
	tabCount
)

var tabTitles = [tabCount]string{"Agents", "Repos", "Ports", "Sessions"}

// Model drives the dashboard. All state changes flow through Update;
// the stream channel is the only thing shared with another goroutine.
type Model struct {
	ctx     context.Context
	client  *Client
	version string

	active tab
	tables [tabCount]table.Model
	snap   Snapshot
	events <-chan Event

	connected bool
	lastErr   error
	lastUsage *ToolUsage

	width  int
	height int
	ready  bool
}

// New builds the dashboard model. ctx bounds the stream connection.
func New(ctx context.Context, client *Client, version string) Model {
	m := Model{ctx: ctx, client: client, version: version}
	for t := tab(0); t < tabCount; t++ {
		m.tables[t] = newTable(columnsFor(t, defaultWidth))
	}
	m.tables[m.active].Focus()
	return m
}

func newTable(cols []table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

type snapshotMsg Snapshot

type streamOpenMsg struct{ events <-chan Event }

type streamEventMsg Event

type streamClosedMsg struct{}

type reconnectMsg struct{}

type refreshMsg time.Time

type errMsg struct{ err error }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchSnapshot, m.openStream, refreshTick())
}

func (m Model) fetchSnapshot() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
	defer cancel()
	snap, err := m.client.Snapshot(ctx)
	if err != nil {
		return errMsg{err: err}
	}
	return snapshotMsg(snap)
}

func (m Model) openStream() tea.Msg {
	events, err := m.client.Stream(m.ctx)
	if err != nil {
		return streamClosedMsg{}
	}
	return streamOpenMsg{events: events}
}

// waitForEvent reads one frame; Update re-arms it after every event so
// the channel drains exactly one message per Update cycle.
func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return streamEventMsg(ev)
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func reconnectTick() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeTables()
		m.rebuildRows()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.setActive((m.active + 1) % tabCount)
			return m, nil
		case "shift+tab", "left", "h":
			m.setActive((m.active + tabCount - 1) % tabCount)
			return m, nil
		case "1", "2", "3", "4":
			m.setActive(tab(msg.String()[0] - '1'))
			return m, nil
		case "r":
			return m, m.fetchSnapshot
		}
		var cmd tea.Cmd
		m.tables[m.active], cmd = m.tables[m.active].Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snap = Snapshot(msg)
		m.lastErr = nil
		m.rebuildRows()
		return m, nil

	case streamOpenMsg:
		m.connected = true
		m.lastErr = nil
		m.events = msg.events
		return m, waitForEvent(m.events)

	case streamEventMsg:
		m.applyEvent(Event(msg))
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.connected = false
		m.events = nil
		return m, reconnectTick()

	case reconnectMsg:
		return m, tea.Batch(m.openStream, m.fetchSnapshot)

	case refreshMsg:
		// Relative time columns drift; rebuild so they stay honest.
		m.rebuildRows()
		return m, refreshTick()

	case errMsg:
		m.lastErr = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.tables[m.active], cmd = m.tables[m.active].Update(msg)
	return m, cmd
}

func (m *Model) applyEvent(ev Event) {
	switch ev.Type {
	case "init":
		m.snap = Snapshot{Agents: ev.Agents, Repos: ev.Repos, Ports: ev.Ports, Sessions: ev.Sessions}
	case "agents":
		m.snap.Agents = ev.Agents
	case "repos":
		m.snap.Repos = ev.Repos
	case "ports":
		m.snap.Ports = ev.Ports
	case "session":
		if ev.Session == nil {
			return
		}
		m.upsertSession(*ev.Session)
	case "tool_usage":
		if ev.ToolUsage != nil {
			m.lastUsage = ev.ToolUsage
		}
		return
	default:
		return
	}
	m.rebuildRows()
}

func (m *Model) upsertSession(s Session) {
	replaced := false
	for i := range m.snap.Sessions {
		if m.snap.Sessions[i].SessionID == s.SessionID {
			m.snap.Sessions[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		m.snap.Sessions = append(m.snap.Sessions, s)
	}
	sort.Slice(m.snap.Sessions, func(i, j int) bool {
		return m.snap.Sessions[i].LastActivity.After(m.snap.Sessions[j].LastActivity)
	})
}

func (m *Model) setActive(t tab) {
	if t < 0 || t >= tabCount {
		return
	}
	m.tables[m.active].Blur()
	m.active = t
	m.tables[m.active].Focus()
}

func (m *Model) rebuildRows() {
	now := time.Now()
	m.tables[tabAgents].SetRows(agentRows(m.snap.Agents))
	m.tables[tabRepos].SetRows(repoRows(m.snap.Repos))
	m.tables[tabPorts].SetRows(portRows(m.snap.Ports))
	m.tables[tabSessions].SetRows(sessionRows(m.snap.Sessions, now))
}

func (m *Model) resizeTables() {
	height := m.height - 7
	if height < 3 {
		height = 3
	}
	for t := tab(0); t < tabCount; t++ {
		m.tables[t].SetColumns(columnsFor(t, m.width))
		m.tables[t].SetWidth(m.width)
		m.tables[t].SetHeight(height)
	}
}

func columnsFor(t tab, width int) []table.Column {
	switch t {
	case tabAgents:
		return []table.Column{
			{Title: "PID", Width: 7},
			{Title: "AGENT", Width: 12},
			{Title: "STATE", Width: 9},
			{Title: "CPU", Width: 6},
			{Title: "MEM", Width: 8},
			{Title: "QUIET", Width: 7},
			{Title: "WHERE", Width: flexWidth(width, 49, 7)},
		}
	case tabRepos:
		return []table.Column{
			{Title: "NAME", Width: 16},
			{Title: "BRANCH", Width: 14},
			{Title: "STAGED", Width: 7},
			{Title: "UNSTAGED", Width: 9},
			{Title: "UNTRACKED", Width: 10},
			{Title: "STATUS", Width: flexWidth(width, 56, 6)},
		}
	case tabPorts:
		return []table.Column{
			{Title: "PORT", Width: 6},
			{Title: "PID", Width: 7},
			{Title: "PROCESS", Width: 14},
			{Title: "PROTO", Width: 6},
			{Title: "ADDRESS", Width: 16},
			{Title: "AGENT", Width: flexWidth(width, 49, 6)},
		}
	default:
		return []table.Column{
			{Title: "SESSION", Width: 10},
			{Title: "AGENT", Width: 10},
			{Title: "STATUS", Width: 9},
			{Title: "TOOLS", Width: 6},
			{Title: "TOKENS", Width: 8},
			{Title: "COST", Width: 9},
			{Title: "LAST", Width: 6},
			{Title: "CWD", Width: flexWidth(width, 58, 8)},
		}
	}
}

// flexWidth sizes the stretchy last column: total width minus the fixed
// columns and per-cell padding, floored so narrow terminals stay legible.
func flexWidth(width, fixed, columns int) int {
	w := width - fixed - 2*columns - 2
	if w < 16 {
		w = 16
	}
	return w
}
