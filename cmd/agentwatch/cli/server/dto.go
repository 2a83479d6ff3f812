package server

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
)

// The wire layer is snake_case while the stores are camelCase. The
// mapping below is the one place the two meet; it also injects the
// derived fields the UI keys on (active, dirty, success_rate,
// commit_count) so clients never recompute them.

type wrapperDTO struct {
	PID          int32     `json:"pid"`
	Agent        string    `json:"agent"`
	Status       string    `json:"status"`
	SessionID    string    `json:"session_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastOutputAt time.Time `json:"last_output_at"`
}

type agentDTO struct {
	PID          int32       `json:"pid"`
	ID           string      `json:"id"`
	Label        string      `json:"label"`
	Command      string      `json:"command"`
	Executable   string      `json:"executable"`
	CPUPercent   float64     `json:"cpu_percent"`
	MemoryKB     uint64      `json:"memory_kb"`
	Threads      int32       `json:"threads"`
	TTY          string      `json:"tty,omitempty"`
	Cwd          string      `json:"cwd,omitempty"`
	RepoRoot     string      `json:"repo_root,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	State        string      `json:"state"`
	RecentCPU    float64     `json:"recent_cpu"`
	QuietSeconds int         `json:"quiet_seconds"`
	Active       bool        `json:"active"`
	Wrapper      *wrapperDTO `json:"wrapper,omitempty"`
}

func toAgentDTO(a livestore.AgentProcess) agentDTO {
	dto := agentDTO{
		PID:        a.PID,
		ID:         livestore.AgentID(a.Label, a.Executable),
		Label:      a.Label,
		Command:    a.Command,
		Executable: a.Executable,
		CPUPercent: a.CPUPercent,
		MemoryKB:   a.MemoryKB,
		Threads:    a.Threads,
		TTY:        a.TTY,
		Cwd:        a.Cwd,
		RepoRoot:   a.RepoRoot,
		StartedAt:  a.StartedAt,
		State:      string(livestore.StateUnknown),
	}
	if a.Heuristic != nil {
		dto.State = string(a.Heuristic.State)
		dto.RecentCPU = a.Heuristic.RecentCPU
		dto.QuietSeconds = a.Heuristic.QuietSeconds
	}
	if a.Wrapper != nil {
		dto.State = string(a.Wrapper.Status)
		dto.Wrapper = &wrapperDTO{
			PID:          a.Wrapper.PID,
			Agent:        a.Wrapper.Agent,
			Status:       string(a.Wrapper.Status),
			SessionID:    a.Wrapper.SessionID,
			StartedAt:    a.Wrapper.StartedAt,
			LastOutputAt: a.Wrapper.LastOutputAt,
		}
	}
	dto.Active = dto.State == string(livestore.StateActive) || dto.State == string(livestore.StateWorking)
	return dto
}

func toAgentList(agents map[int32]livestore.AgentProcess) []agentDTO {
	out := make([]agentDTO, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentDTO(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

type repoFlagsDTO struct {
	Conflict   bool `json:"conflict,omitempty"`
	Rebase     bool `json:"rebase,omitempty"`
	Merge      bool `json:"merge,omitempty"`
	CherryPick bool `json:"cherry_pick,omitempty"`
	Revert     bool `json:"revert,omitempty"`
}

type upstreamDTO struct {
	Tracking string `json:"tracking"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
}

type repoDTO struct {
	ID        string       `json:"id"`
	Path      string       `json:"path"`
	Name      string       `json:"name"`
	Branch    string       `json:"branch"`
	Staged    int          `json:"staged"`
	Unstaged  int          `json:"unstaged"`
	Untracked int          `json:"untracked"`
	Dirty     bool         `json:"dirty"`
	Flags     repoFlagsDTO `json:"flags"`
	Upstream  *upstreamDTO `json:"upstream,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	TimedOut  bool         `json:"timed_out,omitempty"`
	ScannedAt time.Time    `json:"scanned_at"`
	ChangedAt time.Time    `json:"changed_at"`
}

func toRepoDTO(r livestore.RepoStatus) repoDTO {
	dto := repoDTO{
		ID:        r.ID,
		Path:      r.Path,
		Name:      r.Name,
		Branch:    r.Branch,
		Staged:    r.Staged,
		Unstaged:  r.Unstaged,
		Untracked: r.Untracked,
		Dirty:     r.Dirty(),
		Flags: repoFlagsDTO{
			Conflict:   r.Flags.Conflict,
			Rebase:     r.Flags.Rebase,
			Merge:      r.Flags.Merge,
			CherryPick: r.Flags.CherryPick,
			Revert:     r.Flags.Revert,
		},
		LastError: r.LastError,
		TimedOut:  r.TimedOut,
		ScannedAt: r.ScannedAt,
		ChangedAt: r.ChangedAt,
	}
	if r.Upstream != nil {
		dto.Upstream = &upstreamDTO{Tracking: r.Upstream.Tracking, Ahead: r.Upstream.Ahead, Behind: r.Upstream.Behind}
	}
	return dto
}

func toRepoList(repos map[string]livestore.RepoStatus, showClean bool) []repoDTO {
	out := make([]repoDTO, 0, len(repos))
	for _, r := range repos {
		dto := toRepoDTO(r)
		if !showClean && !dto.Dirty {
			continue
		}
		out = append(out, dto)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}

type portDTO struct {
	Port       int       `json:"port"`
	PID        int32     `json:"pid"`
	Process    string    `json:"process"`
	Command    string    `json:"command,omitempty"`
	Address    string    `json:"address"`
	Protocol   string    `json:"protocol"`
	AgentPID   int32     `json:"agent_pid,omitempty"`
	AgentLabel string    `json:"agent_label,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
}

func toPortDTO(p livestore.ListeningPort) portDTO {
	return portDTO{
		Port:       p.Port,
		PID:        p.PID,
		Process:    p.Process,
		Command:    p.Command,
		Address:    p.Address,
		Protocol:   p.Protocol,
		AgentPID:   p.AgentPID,
		AgentLabel: p.AgentLabel,
		FirstSeen:  p.FirstSeen,
	}
}

func toPortList(ports map[int]livestore.ListeningPort) []portDTO {
	out := make([]portDTO, 0, len(ports))
	for _, p := range ports {
		out = append(out, toPortDTO(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

type sessionDTO struct {
	SessionID            string         `json:"session_id"`
	TranscriptPath       string         `json:"transcript_path,omitempty"`
	Cwd                  string         `json:"cwd,omitempty"`
	PermissionMode       string         `json:"permission_mode,omitempty"`
	Source               string         `json:"source,omitempty"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              *time.Time     `json:"end_time,omitempty"`
	LastActivity         time.Time      `json:"last_activity"`
	Active               bool           `json:"active"`
	AwaitingInput        bool           `json:"awaiting_input"`
	PID                  int32          `json:"pid,omitempty"`
	AgentLabel           string         `json:"agent_label,omitempty"`
	ToolCount            int            `json:"tool_count"`
	ToolsUsed            map[string]int `json:"tools_used,omitempty"`
	TotalInputTokens     int64          `json:"total_input_tokens"`
	TotalOutputTokens    int64          `json:"total_output_tokens"`
	EstimatedCostUSD     float64        `json:"estimated_cost_usd"`
	CostDisplay          string         `json:"cost_display"`
	OverLimit            bool           `json:"over_limit,omitempty"`
	AutoContinueAttempts int            `json:"auto_continue_attempts,omitempty"`
	CommitCount          int            `json:"commit_count"`
	Commits              []string       `json:"commits,omitempty"`
}

func toSessionDTO(s hookstore.Session, costLimit float64) sessionDTO {
	return sessionDTO{
		SessionID:            s.SessionID,
		TranscriptPath:       s.TranscriptPath,
		Cwd:                  s.Cwd,
		PermissionMode:       s.PermissionMode,
		Source:               s.Source,
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		LastActivity:         s.LastActivity,
		Active:               s.Active(),
		AwaitingInput:        s.AwaitingInput,
		PID:                  s.PID,
		AgentLabel:           s.AgentLabel,
		ToolCount:            s.ToolCount,
		ToolsUsed:            s.ToolsUsed,
		TotalInputTokens:     s.TotalInputTokens,
		TotalOutputTokens:    s.TotalOutputTokens,
		EstimatedCostUSD:     s.EstimatedCostUSD,
		CostDisplay:          pricing.FormatCost(s.EstimatedCostUSD),
		OverLimit:            costLimit > 0 && s.EstimatedCostUSD >= costLimit,
		AutoContinueAttempts: s.AutoContinueAttempts,
		CommitCount:          len(s.Commits),
		Commits:              s.Commits,
	}
}

func toSessionList(sessions []hookstore.Session, costLimit float64) []sessionDTO {
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s, costLimit))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

type toolUsageDTO struct {
	ToolUseID  string          `json:"tool_use_id"`
	SessionID  string          `json:"session_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	Cwd        string          `json:"cwd,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"duration_ms"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Response   string          `json:"response,omitempty"`
}

func toToolUsageDTO(u hookstore.ToolUsage) toolUsageDTO {
	return toolUsageDTO{
		ToolUseID:  u.ToolUseID,
		SessionID:  u.SessionID,
		ToolName:   u.ToolName,
		ToolInput:  u.ToolInput,
		Cwd:        u.Cwd,
		Timestamp:  u.Timestamp,
		DurationMs: u.DurationMs,
		Success:    u.Success,
		Error:      u.Error,
		Response:   u.Response,
	}
}

type commitDTO struct {
	SessionID  string    `json:"session_id"`
	CommitHash string    `json:"commit_hash"`
	Message    string    `json:"message,omitempty"`
	RepoPath   string    `json:"repo_path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func toCommitDTO(c hookstore.Commit) commitDTO {
	return commitDTO{
		SessionID:  c.SessionID,
		CommitHash: c.CommitHash,
		Message:    c.Message,
		RepoPath:   c.RepoPath,
		Timestamp:  c.Timestamp,
	}
}

type toolStatsDTO struct {
	Tool          string  `json:"tool"`
	TotalCalls    int     `json:"total_calls"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

func toToolStatsList(stats map[string]hookstore.ToolStats) []toolStatsDTO {
	out := make([]toolStatsDTO, 0, len(stats))
	for name, st := range stats {
		dto := toolStatsDTO{
			Tool:          name,
			TotalCalls:    st.TotalCalls,
			Successes:     st.Successes,
			Failures:      st.Failures,
			AvgDurationMs: st.AvgDurationMs,
		}
		if st.TotalCalls > 0 {
			dto.SuccessRate = float64(st.Successes) / float64(st.TotalCalls)
		}
		out = append(out, dto)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

type dailyStatsDTO struct {
	Date         string         `json:"date"`
	Sessions     int            `json:"sessions"`
	ToolCalls    int            `json:"tool_calls"`
	Failures     int            `json:"failures"`
	ByTool       map[string]int `json:"by_tool,omitempty"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	CostDisplay  string         `json:"cost_display"`
	OverLimit    bool           `json:"over_limit,omitempty"`
}

func toDailyStatsList(stats map[string]hookstore.DailyStats, costLimit float64) []dailyStatsDTO {
	out := make([]dailyStatsDTO, 0, len(stats))
	for date, st := range stats {
		out = append(out, dailyStatsDTO{
			Date:         date,
			Sessions:     st.Sessions,
			ToolCalls:    st.ToolCalls,
			Failures:     st.Failures,
			ByTool:       st.ByTool,
			InputTokens:  st.InputTokens,
			OutputTokens: st.OutputTokens,
			CostUSD:      st.CostUSD,
			CostDisplay:  pricing.FormatCost(st.CostUSD),
			OverLimit:    costLimit > 0 && st.CostUSD >= costLimit,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

type loopWindowDTO struct {
	Kind  string `json:"kind"`
	Tool  string `json:"tool,omitempty"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Count int    `json:"count"`
}

type loopReportDTO struct {
	Detected bool            `json:"detected"`
	Severity string          `json:"severity,omitempty"`
	Windows  []loopWindowDTO `json:"windows,omitempty"`
}

type fileChangeDTO struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

type diffSnapshotDTO struct {
	StartHead        string          `json:"start_head,omitempty"`
	EndHead          string          `json:"end_head,omitempty"`
	CommitCount      int             `json:"commit_count"`
	FilesChanged     []fileChangeDTO `json:"files_changed,omitempty"`
	Insertions       int             `json:"insertions"`
	Deletions        int             `json:"deletions"`
	UncommittedFiles int             `json:"uncommitted_files"`
}

type churnDTO struct {
	Files        int `json:"files"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

type outcomeDTO struct {
	ToolCalls    int      `json:"tool_calls"`
	Successes    int      `json:"successes"`
	Failures     int      `json:"failures"`
	TestRuns     int      `json:"test_runs"`
	TestsPassed  int      `json:"tests_passed"`
	TestsFailed  int      `json:"tests_failed"`
	NonZeroExits int      `json:"non_zero_exits"`
	EditChurn    churnDTO `json:"edit_churn"`
}

type enrichmentDTO struct {
	Ref            string           `json:"ref"`
	SessionID      string           `json:"session_id,omitempty"`
	Source         string           `json:"source"`
	ComputedAt     time.Time        `json:"computed_at"`
	TaskType       string           `json:"task_type"`
	LanguageTags   []string         `json:"language_tags,omitempty"`
	Outcome        outcomeDTO       `json:"outcome"`
	Loops          loopReportDTO    `json:"loops"`
	Diff           *diffSnapshotDTO `json:"diff,omitempty"`
	Score          int              `json:"score"`
	Classification string           `json:"classification"`
}

func toEnrichmentDTO(e enrich.Enrichment) enrichmentDTO {
	dto := enrichmentDTO{
		Ref:          e.Ref,
		SessionID:    e.SessionID,
		Source:       e.Source,
		ComputedAt:   e.ComputedAt,
		TaskType:     e.TaskType,
		LanguageTags: e.LanguageTags,
		Outcome: outcomeDTO{
			ToolCalls:    e.Outcome.ToolCalls,
			Successes:    e.Outcome.Successes,
			Failures:     e.Outcome.Failures,
			TestRuns:     e.Outcome.TestRuns,
			TestsPassed:  e.Outcome.TestsPassed,
			TestsFailed:  e.Outcome.TestsFailed,
			NonZeroExits: e.Outcome.NonZeroExits,
			EditChurn: churnDTO{
				Files:        e.Outcome.EditChurn.Files,
				LinesAdded:   e.Outcome.EditChurn.LinesAdded,
				LinesRemoved: e.Outcome.EditChurn.LinesRemoved,
			},
		},
		Loops: loopReportDTO{
			Detected: e.Loops.Detected,
			Severity: e.Loops.Severity,
		},
		Score:          e.Score,
		Classification: e.Classification,
	}
	for _, w := range e.Loops.Windows {
		dto.Loops.Windows = append(dto.Loops.Windows, loopWindowDTO{
			Kind: w.Kind, Tool: w.Tool, Start: w.Start, End: w.End, Count: w.Count,
		})
	}
	if e.Diff != nil {
		d := &diffSnapshotDTO{
			StartHead:        e.Diff.StartHead,
			EndHead:          e.Diff.EndHead,
			CommitCount:      e.Diff.CommitCount,
			Insertions:       e.Diff.Insertions,
			Deletions:        e.Diff.Deletions,
			UncommittedFiles: e.Diff.UncommittedFiles,
		}
		for _, fc := range e.Diff.FilesChanged {
			d.FilesChanged = append(d.FilesChanged, fileChangeDTO{
				Path: fc.Path, Insertions: fc.Insertions, Deletions: fc.Deletions,
			})
		}
		dto.Diff = d
	}
	return dto
}

type annotationDTO struct {
	Feedback       string    `json:"feedback,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Rating         int       `json:"rating,omitempty"`
	WorkflowStatus string    `json:"workflow_status,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAnnotationDTO(a enrich.Annotation) annotationDTO {
	return annotationDTO{
		Feedback:       a.Feedback,
		Notes:          a.Notes,
		Tags:           a.Tags,
		Rating:         a.Rating,
		WorkflowStatus: a.WorkflowStatus,
		UpdatedAt:      a.UpdatedAt,
	}
}

type timelineEventDTO struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entity_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Source    string         `json:"source"`
}

type timelineSourcesDTO struct {
	Logged   int `json:"logged"`
	Inferred int `json:"inferred"`
}

type timelineResultDTO struct {
	Events     []timelineEventDTO `json:"events"`
	Total      int                `json:"total"`
	ByCategory map[string]int     `json:"by_category"`
	ByAction   map[string]int     `json:"by_action"`
	Sources    timelineSourcesDTO `json:"sources"`
}

func toTimelineResultDTO(r *timeline.Result) timelineResultDTO {
	dto := timelineResultDTO{
		Events:     make([]timelineEventDTO, 0, len(r.Events)),
		Total:      r.Total,
		ByCategory: r.ByCategory,
		ByAction:   r.ByAction,
		Sources:    timelineSourcesDTO{Logged: r.Sources.Logged, Inferred: r.Sources.Inferred},
	}
	for _, ev := range r.Events {
		dto.Events = append(dto.Events, timelineEventDTO{
			Timestamp: ev.Timestamp,
			Category:  ev.Category,
			Action:    ev.Action,
			EntityID:  ev.EntityID,
			Details:   ev.Details,
			Source:    ev.Source,
		})
	}
	return dto
}

type metadataDTO struct {
	CustomName string    `json:"custom_name,omitempty"`
	Aliases    []string  `json:"aliases,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Color      string    `json:"color,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toMetadataDTO(m enrich.EntityMetadata) metadataDTO {
	return metadataDTO{
		CustomName: m.CustomName,
		Aliases:    m.Aliases,
		Notes:      m.Notes,
		Tags:       m.Tags,
		Color:      m.Color,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
