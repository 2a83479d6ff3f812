package hookstore

import (
	"encoding/json"
	"time"
)

// Session is one logical run of a coding agent, opened by a SessionStart
// hook and closed by SessionEnd or by dead-process reclamation.
// This is persisted as one JSONL line per mutation; on load the final line
// per session id wins.
type Session struct {
	// SessionID is the host agent's session identifier.
	SessionID string `json:"sessionId"`

	// TranscriptPath is the agent's transcript file, when reported.
	TranscriptPath string `json:"transcriptPath,omitempty"`

	// Cwd is the working directory the session was started in.
	Cwd string `json:"cwd,omitempty"`

	// PermissionMode is the agent's permission mode ("default", "plan", ...).
	PermissionMode string `json:"permissionMode,omitempty"`

	// Source is what triggered the session ("startup", "resume", "clear").
	Source string `json:"source,omitempty"`

	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`

	// AwaitingInput is set while the agent is blocked on a permission
	// prompt or user question.
	AwaitingInput bool `json:"awaitingInput,omitempty"`

	// PID is the monitored process bound to this session, 0 if unbound.
	PID        int32  `json:"pid,omitempty"`
	AgentLabel string `json:"agentLabel,omitempty"`

	// ToolCount is the total number of recorded tool invocations; it always
	// equals the sum of ToolsUsed values.
	ToolCount int            `json:"toolCount"`
	ToolsUsed map[string]int `json:"toolsUsed,omitempty"`

	TotalInputTokens  int64   `json:"totalInputTokens,omitempty"`
	TotalOutputTokens int64   `json:"totalOutputTokens,omitempty"`
	EstimatedCostUSD  float64 `json:"estimatedCostUsd,omitempty"`

	// AutoContinueAttempts counts retry nudges issued by the caller's
	// auto-continue policy.
	AutoContinueAttempts int `json:"autoContinueAttempts,omitempty"`

	// Commits lists the hashes attributed to this session, oldest first.
	Commits []string `json:"commits,omitempty"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	return s.EndTime == nil
}

// clone deep-copies the session so snapshots handed to subscribers and
// callers never alias store-internal maps.
func (s *Session) clone() *Session {
	out := *s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.ToolsUsed != nil {
		out.ToolsUsed = make(map[string]int, len(s.ToolsUsed))
		for k, v := range s.ToolsUsed {
			out.ToolsUsed[k] = v
		}
	}
	if s.Commits != nil {
		out.Commits = append([]string(nil), s.Commits...)
	}
	return &out
}

// ToolUsage is one tool invocation: created pending by PreToolUse and
// completed by the matching PostToolUse (or synthesised whole by a
// security block).
type ToolUsage struct {
	ToolUseID string `json:"toolUseId"`
	SessionID string `json:"sessionId"`
	ToolName  string `json:"toolName"`

	// ToolInput is the raw input payload as reported by the hook.
	ToolInput json.RawMessage `json:"toolInput,omitempty"`

	Cwd string `json:"cwd,omitempty"`

	// Timestamp is when the PreToolUse arrived.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is the Pre-to-Post latency. Zero until completed.
	DurationMs int64 `json:"durationMs"`

	// Success is true iff Error is empty.
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Response is the flattened tool output, truncated to its tail.
	Response string `json:"response,omitempty"`
}

func (u *ToolUsage) clone() *ToolUsage {
	out := *u
	if u.ToolInput != nil {
		out.ToolInput = append(json.RawMessage(nil), u.ToolInput...)
	}
	return &out
}

// Commit is one commit attributed to a session, reported by the commit
// hook or extracted from Bash tool output after the fact.
type Commit struct {
	SessionID  string    `json:"sessionId"`
	CommitHash string    `json:"commitHash"`
	Message    string    `json:"message,omitempty"`
	RepoPath   string    `json:"repoPath,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentInfo is the slice of live-process state the process scanner hands
// to session reconciliation, keyed by PID in the maps it passes.
type AgentInfo struct {
	Cwd   string
	Label string
}
