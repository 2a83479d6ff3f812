package livestore

import (
	"hash/fnv"
	"strconv"
	"time"
)

// AgentState is the heuristic activity state of a monitored process.
type AgentState string

const (
	// StateActive means recent CPU is at or above the configured threshold.
	StateActive AgentState = "ACTIVE"
	// StateIdle means the process is alive but below the CPU threshold.
	StateIdle AgentState = "IDLE"
	// StateStalled means no CPU activity for longer than the quiet threshold.
	StateStalled AgentState = "STALLED"
	// StateWorking is reported by the pty wrapper while output is flowing.
	StateWorking AgentState = "WORKING"
	// StateWaiting is reported by the pty wrapper when output has gone quiet,
	// typically an interactive prompt.
	StateWaiting AgentState = "WAITING"
	// StateUnknown is used before enough history has accumulated.
	StateUnknown AgentState = "UNKNOWN"
)

// AgentHeuristic carries the scanner's per-tick activity estimate.
type AgentHeuristic struct {
	State        AgentState `json:"state"`
	RecentCPU    float64    `json:"recentCpu"`
	QuietSeconds int        `json:"quietSeconds"`
}

// WrapperState is the overlay attached to processes the daemon launched
// itself via `agentwatch run`. It is reported over HTTP by the wrapper and
// removed explicitly when the wrapped process exits.
type WrapperState struct {
	PID          int32      `json:"pid"`
	Agent        string     `json:"agent"`
	Status       AgentState `json:"status"`
	SessionID    string     `json:"sessionId,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	LastOutputAt time.Time  `json:"lastOutputAt"`
}

// AgentProcess is one monitored coding-agent process, keyed by PID.
type AgentProcess struct {
	PID        int32           `json:"pid"`
	Label      string          `json:"label"`
	Command    string          `json:"command"`
	Executable string          `json:"executable"`
	CPUPercent float64         `json:"cpuPercent"`
	MemoryKB   uint64          `json:"memoryKb"`
	Threads    int32           `json:"threads"`
	TTY        string          `json:"tty,omitempty"`
	Cwd        string          `json:"cwd,omitempty"`
	RepoRoot   string          `json:"repoRoot,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	Heuristic  *AgentHeuristic `json:"heuristic,omitempty"`
	Wrapper    *WrapperState   `json:"wrapper,omitempty"`
}

// AgentID returns the stable identity used to join agent metadata across
// runs: FNV-1a (64-bit) over label and executable, hex encoded. PIDs are
// recycled by the OS so they cannot serve as durable identity.
func AgentID(label, executable string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(label))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(executable))
	return strconv.FormatUint(h.Sum64(), 16)
}

// RepoFlags is the special-state flag set of a working copy.
type RepoFlags struct {
	Conflict   bool `json:"conflict,omitempty"`
	Rebase     bool `json:"rebase,omitempty"`
	Merge      bool `json:"merge,omitempty"`
	CherryPick bool `json:"cherryPick,omitempty"`
	Revert     bool `json:"revert,omitempty"`
}

// Any reports whether any special-state flag is set.
func (f RepoFlags) Any() bool {
	return f.Conflict || f.Rebase || f.Merge || f.CherryPick || f.Revert
}

// UpstreamInfo describes the tracking branch relationship.
type UpstreamInfo struct {
	Tracking string `json:"tracking"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
}

// RepoStatus is the scanned state of one git working copy, keyed by its
// absolute path.
type RepoStatus struct {
	Path      string        `json:"path"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Branch    string        `json:"branch"`
	Staged    int           `json:"staged"`
	Unstaged  int           `json:"unstaged"`
	Untracked int           `json:"untracked"`
	Flags     RepoFlags     `json:"flags"`
	Upstream  *UpstreamInfo `json:"upstream,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	TimedOut  bool          `json:"timedOut,omitempty"`
	ScannedAt time.Time     `json:"scannedAt"`
	ChangedAt time.Time     `json:"changedAt"`
}

// Dirty reports whether the working copy has any local state worth showing:
// pending counts or any special flag.
func (r RepoStatus) Dirty() bool {
	return r.Staged+r.Unstaged+r.Untracked > 0 || r.Flags.Any()
}

// RepoID returns the stable identity of a repo: FNV-1a (64-bit) over the
// canonical absolute path, hex encoded.
func RepoID(canonicalPath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonicalPath))
	return strconv.FormatUint(h.Sum64(), 16)
}

// ListeningPort is one TCP listener, keyed by port number.
type ListeningPort struct {
	Port       int       `json:"port"`
	PID        int32     `json:"pid"`
	Process    string    `json:"process"`
	Command    string    `json:"command,omitempty"`
	Address    string    `json:"address"`
	Protocol   string    `json:"protocol"`
	AgentPID   int32     `json:"agentPid,omitempty"`
	AgentLabel string    `json:"agentLabel,omitempty"`
	FirstSeen  time.Time `json:"firstSeen"`
	Cwd        string    `json:"cwd,omitempty"`
}
