package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	hooks, err := hookstore.New(hookstore.Options{Dir: filepath.Join(dir, paths.HooksDirName)})
	require.NoError(t, err)

	enrichments := enrich.NewStore(dir)
	return New(config.WebConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Live:        livestore.New(),
		Hooks:       hooks,
		Audit:       timeline.New(dir),
		Enrichments: enrichments,
		Annotations: enrich.NewAnnotationStore(dir),
		AgentMeta:   enrich.NewAgentMetadataStore(dir),
		ConvMeta:    enrich.NewConversationMetadataStore(dir),
		Managed:     wrapper.NewRegistry(dir),
		Pipeline:    enrich.NewPipeline(enrichments, enrich.NewDiffTracker()),
		Pricing:     pricing.NewTable(),
		Version:     "test",
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func doRaw(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func liveAgent(pid int32, label string) livestore.AgentProcess {
	return livestore.AgentProcess{
		PID:        pid,
		Label:      label,
		Command:    label + " --continue",
		Executable: label,
		StartedAt:  time.Now(),
		Heuristic:  &livestore.AgentHeuristic{State: livestore.StateActive, RecentCPU: 14.2},
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Live.SetAgents(map[int32]livestore.AgentProcess{101: liveAgent(101, "claude")})
	s.deps.Live.SetPorts(map[int]livestore.ListeningPort{3000: {Port: 3000, PID: 200, Process: "node", Address: "127.0.0.1", Protocol: "tcp"}})
	s.deps.Hooks.SessionStart("snap-1", "", "/p", "default", "startup")

	w := doJSON(t, s, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Agents   []agentDTO   `json:"agents"`
		Repos    []repoDTO    `json:"repos"`
		Ports    []portDTO    `json:"ports"`
		Sessions []sessionDTO `json:"sessions"`
	}
	decode(t, w, &body)
	require.Len(t, body.Agents, 1)
	assert.True(t, body.Agents[0].Active)
	assert.Empty(t, body.Repos)
	require.Len(t, body.Ports, 1)
	require.Len(t, body.Sessions, 1)
	assert.True(t, body.Sessions[0].Active)
}

func TestAgentDetailAndErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Live.SetAgents(map[int32]livestore.AgentProcess{
		101: liveAgent(101, "claude"),
		55:  liveAgent(55, "codex"),
	})

	w := doJSON(t, s, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Agents []agentDTO `json:"agents"`
	}
	decode(t, w, &list)
	require.Len(t, list.Agents, 2)
	assert.Equal(t, int32(55), list.Agents[0].PID)
	assert.Equal(t, int32(101), list.Agents[1].PID)

	w = doJSON(t, s, http.MethodGet, "/api/agents/101", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var agent agentDTO
	decode(t, w, &agent)
	assert.Equal(t, "claude", agent.Label)
	assert.Equal(t, livestore.AgentID("claude", "claude"), agent.ID)
	assert.Equal(t, "ACTIVE", agent.State)
	assert.True(t, agent.Active)

	w = doJSON(t, s, http.MethodGet, "/api/agents/9999", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var errBody map[string]string
	decode(t, w, &errBody)
	assert.Contains(t, errBody["error"], "not found")

	w = doJSON(t, s, http.MethodGet, "/api/agents/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReposShowCleanFilter(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Live.SetRepos(map[string]livestore.RepoStatus{
		"/w/dirty": {Path: "/w/dirty", ID: "d1", Name: "dirty", Branch: "main", Staged: 2},
		"/w/clean": {Path: "/w/clean", ID: "c1", Name: "clean", Branch: "main"},
	})

	var body struct {
		Repos []repoDTO `json:"repos"`
	}

	w := doJSON(t, s, http.MethodGet, "/api/repos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Repos, 1)
	assert.Equal(t, "dirty", body.Repos[0].Name)
	assert.True(t, body.Repos[0].Dirty)

	w = doJSON(t, s, http.MethodGet, "/api/repos?show_clean=true", nil)
	decode(t, w, &body)
	require.Len(t, body.Repos, 2)
	assert.Equal(t, "clean", body.Repos[0].Name)
	assert.False(t, body.Repos[0].Dirty)

	// The configured default applies only when the query says nothing.
	s.deps.ShowCleanRepos = true
	w = doJSON(t, s, http.MethodGet, "/api/repos", nil)
	decode(t, w, &body)
	require.Len(t, body.Repos, 2)

	w = doJSON(t, s, http.MethodGet, "/api/repos?show_clean=false", nil)
	decode(t, w, &body)
	require.Len(t, body.Repos, 1)
}

func TestSessionFlowOverHooks(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/hooks/session-start", gin.H{
		"session_id": "s1", "permission_mode": "default", "source": "startup",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var result map[string]string
	decode(t, w, &result)
	assert.Equal(t, "continue", result["result"])

	w = doJSON(t, s, http.MethodPost, "/api/hooks/pre-tool-use", gin.H{
		"session_id": "s1", "tool_use_id": "t1", "tool_name": "Bash",
		"tool_input": gin.H{"command": "go test ./..."},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/post-tool-use", gin.H{
		"tool_use_id": "t1", "tool_response": "ok  2 passed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/tokens", gin.H{
		"session_id": "s1", "input_tokens": 1000, "output_tokens": 2000, "model": "claude-sonnet-4",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/commit", gin.H{
		"session_id": "s1", "commit_hash": "abc1234", "message": "feat: x",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		Session sessionDTO  `json:"session"`
		Commits []commitDTO `json:"commits"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.True(t, detail.Session.Active)
	assert.Equal(t, 1, detail.Session.ToolCount)
	assert.Equal(t, 1, detail.Session.CommitCount)
	assert.Equal(t, int64(1000), detail.Session.TotalInputTokens)
	assert.Greater(t, detail.Session.EstimatedCostUSD, 0.0)
	assert.NotEmpty(t, detail.Session.CostDisplay)
	require.Len(t, detail.Commits, 1)
	assert.Equal(t, "abc1234", detail.Commits[0].CommitHash)

	var usages struct {
		Usages []toolUsageDTO `json:"usages"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/s1/usages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &usages)
	require.Len(t, usages.Usages, 1)
	assert.Equal(t, "t1", usages.Usages[0].ToolUseID)
	assert.True(t, usages.Usages[0].Success)
	assert.Equal(t, "ok  2 passed", usages.Usages[0].Response)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/session-end", gin.H{"session_id": "s1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/sessions/s1", nil)
	decode(t, w, &detail)
	assert.False(t, detail.Session.Active)
	require.NotNil(t, detail.Session.EndTime)

	// Session end kicks enrichment off in the background.
	assert.Eventually(t, func() bool {
		_, ok, err := s.deps.Enrichments.Get("corr:s1")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(t, s, http.MethodGet, "/api/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHookValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	cases := []struct {
		name string
		path string
		body gin.H
	}{
		{"session_start_without_id", "/api/hooks/session-start", gin.H{"cwd": "/p"}},
		{"session_end_without_id", "/api/hooks/session-end", gin.H{}},
		{"pre_tool_use_without_tool", "/api/hooks/pre-tool-use", gin.H{"session_id": "s1"}},
		{"post_tool_use_without_use_id", "/api/hooks/post-tool-use", gin.H{"error": "boom"}},
		{"security_block_without_tool", "/api/hooks/security-block", gin.H{"session_id": "s1"}},
		{"commit_without_hash", "/api/hooks/commit", gin.H{"session_id": "s1"}},
		{"awaiting_without_flag", "/api/hooks/awaiting", gin.H{"session_id": "s1"}},
		{"auto_continue_without_id", "/api/hooks/auto-continue", gin.H{"reset": true}},
		{"tokens_without_id", "/api/hooks/tokens", gin.H{"input_tokens": 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var errBody map[string]string
			decode(t, w, &errBody)
			assert.NotEmpty(t, errBody["error"])
		})
	}

	w := doRaw(t, s, http.MethodPost, "/api/hooks/session-start", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoContinueCounter(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Hooks.SessionStart("ac1", "", "", "default", "startup")

	var result struct {
		Result   string `json:"result"`
		Attempts int    `json:"attempts"`
	}
	w := doJSON(t, s, http.MethodPost, "/api/hooks/auto-continue", gin.H{"session_id": "ac1"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Equal(t, "continue", result.Result)
	assert.Equal(t, 1, result.Attempts)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/auto-continue", gin.H{"session_id": "ac1"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Equal(t, 2, result.Attempts)

	var detail struct {
		Session sessionDTO `json:"session"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/ac1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.Equal(t, 2, detail.Session.AutoContinueAttempts)

	w = doJSON(t, s, http.MethodPost, "/api/hooks/auto-continue", gin.H{"session_id": "ac1", "reset": true})
	require.Equal(t, http.StatusOK, w.Code)
	var reset map[string]string
	decode(t, w, &reset)
	assert.Equal(t, "continue", reset["result"])

	w = doJSON(t, s, http.MethodGet, "/api/sessions/ac1", nil)
	// A zero count is omitted from the JSON, so clear the previous decode.
	detail.Session = sessionDTO{}
	decode(t, w, &detail)
	assert.Zero(t, detail.Session.AutoContinueAttempts)

	// Unknown sessions get a zero count back, not an error.
	w = doJSON(t, s, http.MethodPost, "/api/hooks/auto-continue", gin.H{"session_id": "ghost"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Zero(t, result.Attempts)
}

func TestSecurityBlockRecordsFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Hooks.SessionStart("sb1", "", "", "default", "startup")

	w := doJSON(t, s, http.MethodPost, "/api/hooks/security-block", gin.H{
		"session_id": "sb1", "tool_name": "Bash",
		"tool_input": gin.H{"command": "rm -rf /"},
		"rule_name":  "dangerous_rm", "reason": "refusing recursive delete of /",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var usages struct {
		Usages []toolUsageDTO `json:"usages"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/sb1/usages", nil)
	decode(t, w, &usages)
	require.Len(t, usages.Usages, 1)
	assert.False(t, usages.Usages[0].Success)
	assert.Contains(t, usages.Usages[0].Error, "SECURITY_BLOCKED")
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Hooks.SessionStart("st1", "", "", "default", "startup")
	s.deps.Hooks.RecordPreToolUse("st1", "u1", "Read", nil, "")
	s.deps.Hooks.RecordPostToolUse("u1", nil, "")
	s.deps.Hooks.RecordPreToolUse("st1", "u2", "Read", nil, "")
	s.deps.Hooks.RecordPostToolUse("u2", nil, "file not found")

	var tools struct {
		Tools []toolStatsDTO `json:"tools"`
	}
	w := doJSON(t, s, http.MethodGet, "/api/stats/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &tools)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "Read", tools.Tools[0].Tool)
	assert.Equal(t, 2, tools.Tools[0].TotalCalls)
	assert.Equal(t, 0.5, tools.Tools[0].SuccessRate)

	var daily struct {
		Daily []dailyStatsDTO `json:"daily"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/stats/daily", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &daily)
	require.Len(t, daily.Daily, 1)
	assert.Equal(t, 1, daily.Daily[0].Sessions)
	assert.Equal(t, 2, daily.Daily[0].ToolCalls)
}

func TestCostLimitFlags(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Costs = config.CostsConfig{SessionLimitUSD: 0.01, DailyLimitUSD: 0.01}

	w := doJSON(t, s, http.MethodPost, "/api/hooks/session-start", gin.H{"session_id": "cl1"})
	require.Equal(t, http.StatusOK, w.Code)

	// 1000 in + 500 out at sonnet rates is $0.0105, past both limits.
	w = doJSON(t, s, http.MethodPost, "/api/hooks/tokens", gin.H{
		"session_id": "cl1", "input_tokens": 1000, "output_tokens": 500, "model": "claude-sonnet-4",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		Session sessionDTO `json:"session"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/cl1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.True(t, detail.Session.OverLimit)

	var daily struct {
		Daily []dailyStatsDTO `json:"daily"`
	}
	w = doJSON(t, s, http.MethodGet, "/api/stats/daily", nil)
	decode(t, w, &daily)
	require.Len(t, daily.Daily, 1)
	assert.True(t, daily.Daily[0].OverLimit)

	// With no limits configured the flags stay off.
	s.deps.Costs = config.CostsConfig{}
	w = doJSON(t, s, http.MethodGet, "/api/sessions/cl1", nil)
	decode(t, w, &detail)
	assert.False(t, detail.Session.OverLimit)
}

func TestAnnotationEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/enrichments/corr:s1/annotation", gin.H{
		"feedback": "positive", "rating": 4, "notes": "solid run",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var stored annotationDTO
	decode(t, w, &stored)
	assert.Equal(t, "positive", stored.Feedback)
	assert.Equal(t, 4, stored.Rating)
	assert.False(t, stored.UpdatedAt.IsZero())

	w = doJSON(t, s, http.MethodGet, "/api/enrichments/corr:s1/annotation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &stored)
	assert.Equal(t, "solid run", stored.Notes)

	w = doJSON(t, s, http.MethodPut, "/api/enrichments/corr:s1/annotation", gin.H{"rating": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/enrichments/corr:absent/annotation", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The write landed in the audit log.
	var tl timelineResultDTO
	w = doJSON(t, s, http.MethodGet, "/api/timeline?category=annotation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &tl)
	assert.Equal(t, 1, tl.Total)
	assert.Equal(t, 1, tl.Sources.Logged)
}

func TestMetadataEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/metadata/agents/agent-1", gin.H{
		"custom_name": "Main Claude", "color": "#4fc1ff",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var meta metadataDTO
	decode(t, w, &meta)
	assert.Equal(t, "Main Claude", meta.CustomName)
	assert.False(t, meta.CreatedAt.IsZero())

	w = doJSON(t, s, http.MethodGet, "/api/metadata/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/metadata/agents/absent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/metadata/bogus/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/metadata/conversations/conv-1", gin.H{"notes": "good thread"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWrapperEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/wrappers", gin.H{
		"run_id": "run-1", "pid": 4321, "agent": "claude", "command": "claude --continue",
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, s.deps.Live.OrphanWrappers(), 1)
	managed, ok, err := s.deps.Managed.Get("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, managed.Running())

	// Heartbeat updates the overlay without restarting the managed session.
	w = doJSON(t, s, http.MethodPost, "/api/wrappers", gin.H{
		"run_id": "run-1", "pid": 4321, "agent": "claude", "status": "WAITING",
	})
	require.Equal(t, http.StatusOK, w.Code)
	after, _, err := s.deps.Managed.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, managed.StartedAt, after.StartedAt)

	w = doJSON(t, s, http.MethodDelete, "/api/wrappers/4321?run_id=run-1&exit_code=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.deps.Live.OrphanWrappers())
	ended, _, err := s.deps.Managed.Get("run-1")
	require.NoError(t, err)
	require.NotNil(t, ended.ExitCode)
	assert.Equal(t, 3, *ended.ExitCode)

	w = doJSON(t, s, http.MethodPost, "/api/wrappers", gin.H{"pid": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/wrappers", gin.H{"pid": 1, "agent": "claude", "status": "SLEEPING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimelineEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	ctx := context.Background()
	s.deps.Audit.Record(ctx, timeline.CategorySession, timeline.ActionStarted, "s1", nil)
	s.deps.Audit.Record(ctx, timeline.CategoryConfig, timeline.ActionModified, "config.yaml", nil)

	var tl timelineResultDTO
	w := doJSON(t, s, http.MethodGet, "/api/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &tl)
	assert.Equal(t, 2, tl.Total)
	assert.Equal(t, 2, tl.Sources.Logged)

	w = doJSON(t, s, http.MethodGet, "/api/timeline?limit=1", nil)
	decode(t, w, &tl)
	assert.Equal(t, 2, tl.Total)
	assert.Len(t, tl.Events, 1)

	w = doJSON(t, s, http.MethodGet, "/api/timeline?category=config", nil)
	decode(t, w, &tl)
	require.Len(t, tl.Events, 1)
	assert.Equal(t, "config.yaml", tl.Events[0].EntityID)

	w = doJSON(t, s, http.MethodGet, "/api/timeline?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/timeline?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrichmentEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	require.NoError(t, s.deps.Enrichments.Put(enrich.Enrichment{
		Ref: "corr:e1", Source: enrich.SourceHook, ComputedAt: time.Now(),
		TaskType: enrich.TaskFeature, Score: 77, Classification: enrich.ClassGood,
	}))

	var list struct {
		Enrichments []enrichmentDTO `json:"enrichments"`
	}
	w := doJSON(t, s, http.MethodGet, "/api/enrichments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list.Enrichments, 1)
	assert.Equal(t, 77, list.Enrichments[0].Score)

	var one enrichmentDTO
	w = doJSON(t, s, http.MethodGet, "/api/enrichments/corr:e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &one)
	assert.Equal(t, "feature", one.TaskType)
	assert.Equal(t, "good", one.Classification)

	w = doJSON(t, s, http.MethodGet, "/api/enrichments/corr:absent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrichSessionOnDemand(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.deps.Hooks.SessionStart("od1", "", "", "default", "startup")

	var e enrichmentDTO
	w := doJSON(t, s, http.MethodPost, "/api/sessions/od1/enrich", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &e)
	assert.Equal(t, "corr:od1", e.Ref)
	assert.Equal(t, 50, e.Score)
	assert.Equal(t, "fair", e.Classification)

	w = doJSON(t, s, http.MethodGet, "/api/enrichments/corr:od1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/sessions/absent/enrich", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebSocketInitAndDeltas(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	readFrame := func() map[string]any {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	}

	init := readFrame()
	assert.Equal(t, "init", init["type"])
	assert.Contains(t, init, "agents")
	assert.Contains(t, init, "repos")
	assert.Contains(t, init, "ports")
	assert.Contains(t, init, "sessions")

	s.deps.Live.SetAgents(map[int32]livestore.AgentProcess{7: liveAgent(7, "claude")})
	delta := readFrame()
	assert.Equal(t, "agents", delta["type"])
	require.Len(t, delta["agents"], 1)

	s.deps.Hooks.SessionStart("ws-1", "", "", "default", "startup")
	delta = readFrame()
	assert.Equal(t, "session", delta["type"])
	session, ok := delta["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ws-1", session["session_id"])
	assert.Equal(t, true, session["active"])
}
