// Package tui renders the daemon's live state in the terminal: one
// table per surface (agents, repos, ports, sessions), bootstrapped from
// the HTTP snapshot and kept current over the delta stream.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const requestTimeout = 5 * time.Second

// Client-side mirrors of the daemon's wire types. Only fields the
// tables render are declared; unknown keys are ignored on decode.

type Wrapper struct {
	PID          int32     `json:"pid"`
	Agent        string    `json:"agent"`
	Status       string    `json:"status"`
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	LastOutputAt time.Time `json:"last_output_at"`
}

type Agent struct {
	PID          int32     `json:"pid"`
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Command      string    `json:"command"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemoryKB     uint64    `json:"memory_kb"`
	Cwd          string    `json:"cwd"`
	RepoRoot     string    `json:"repo_root"`
	StartedAt    time.Time `json:"started_at"`
	State        string    `json:"state"`
	QuietSeconds int       `json:"quiet_seconds"`
	Active       bool      `json:"active"`
	Wrapper      *Wrapper  `json:"wrapper"`
}

type RepoFlags struct {
	Conflict   bool `json:"conflict"`
	Rebase     bool `json:"rebase"`
	Merge      bool `json:"merge"`
	CherryPick bool `json:"cherry_pick"`
	Revert     bool `json:"revert"`
}

type Upstream struct {
	Tracking string `json:"tracking"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
}

type Repo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	Staged    int       `json:"staged"`
	Unstaged  int       `json:"unstaged"`
	Untracked int       `json:"untracked"`
	Dirty     bool      `json:"dirty"`
	Flags     RepoFlags `json:"flags"`
	Upstream  *Upstream `json:"upstream"`
	LastError string    `json:"last_error"`
}

type Port struct {
	Port       int    `json:"port"`
	PID        int32  `json:"pid"`
	Process    string `json:"process"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	AgentPID   int32  `json:"agent_pid"`
	AgentLabel string `json:"agent_label"`
}

type Session struct {
	SessionID         string    `json:"session_id"`
	Cwd               string    `json:"cwd"`
	StartTime         time.Time `json:"start_time"`
	LastActivity      time.Time `json:"last_activity"`
	Active            bool      `json:"active"`
	AwaitingInput     bool      `json:"awaiting_input"`
	AgentLabel        string    `json:"agent_label"`
	ToolCount         int       `json:"tool_count"`
	TotalInputTokens  int64     `json:"total_input_tokens"`
	TotalOutputTokens int64     `json:"total_output_tokens"`
	CostDisplay       string    `json:"cost_display"`
	CommitCount       int       `json:"commit_count"`
}

type ToolUsage struct {
	SessionID  string    `json:"session_id"`
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the REST bootstrap payload.
type Snapshot struct {
	Agents   []Agent   `json:"agents"`
	Repos    []Repo    `json:"repos"`
	Ports    []Port    `json:"ports"`
	Sessions []Session `json:"sessions"`
}

// Event is one decoded stream frame. Type selects which field carries
// data: list frames replace a whole surface, session and tool_usage
// frames carry a single record. The init frame fills all four lists.
type Event struct {
	Type      string     `json:"type"`
	Agents    []Agent    `json:"agents"`
	Repos     []Repo     `json:"repos"`
	Ports     []Port     `json:"ports"`
	Sessions  []Session  `json:"sessions"`
	Session   *Session   `json:"session"`
	ToolUsage *ToolUsage `json:"tool_usage"`
}

// Client talks to one daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Snapshot fetches the full current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/snapshot", nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return snap, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Stream connects to the delta feed. Decoded events arrive on the
// returned channel until the connection drops or ctx ends; the channel
// closes in both cases. The caller reconnects by calling Stream again.
func (c *Client) Stream(ctx context.Context) (<-chan Event, error) {
	wsURL, err := c.wsURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil) //nolint:bodyclose // handshake response body is unused on success
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}

	events := make(chan Event)
	readerDone := make(chan struct{})

	go func() {
		defer close(events)
		defer close(readerDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Closing the conn is the only way to unblock ReadMessage.
	go func() {
		select {
		case <-ctx.Done():
		case <-readerDone:
		}
		_ = conn.Close()
	}()

	return events, nil
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing daemon URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}
