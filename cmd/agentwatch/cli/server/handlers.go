package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
)

const (
	defaultSessionsLimit = 50
	defaultUsagesLimit   = 100
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

func internalError(c *gin.Context, err error) {
	logging.Error(c.Request.Context(), "handler failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func boolQuery(c *gin.Context, name string) bool {
	v := c.Query(name)
	return v == "true" || v == "1"
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, name+" must be RFC3339")
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agents":    toAgentList(s.deps.Live.Agents()),
		"repos":     toRepoList(s.deps.Live.Repos(), true),
		"ports":     toPortList(s.deps.Live.Ports()),
		"sessions":  toSessionList(s.deps.Hooks.ActiveSessions(), s.deps.Costs.SessionLimitUSD),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": toAgentList(s.deps.Live.Agents())})
}

func (s *Server) handleAgent(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		badRequest(c, "pid must be an integer")
		return
	}
	agent, ok := s.deps.Live.Agent(int32(pid))
	if !ok {
		notFound(c, "agent not found")
		return
	}
	c.JSON(http.StatusOK, toAgentDTO(agent))
}

func (s *Server) handleRepos(c *gin.Context) {
	showClean := s.deps.ShowCleanRepos
	if v, ok := c.GetQuery("show_clean"); ok {
		showClean = v == "true" || v == "1"
	}
	c.JSON(http.StatusOK, gin.H{"repos": toRepoList(s.deps.Live.Repos(), showClean)})
}

func (s *Server) handlePorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": toPortList(s.deps.Live.Ports())})
}

func (s *Server) handleSessions(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultSessionsLimit)
	if !ok {
		return
	}

	var sessions []sessionDTO
	if boolQuery(c, "active") {
		sessions = toSessionList(s.deps.Hooks.ActiveSessions(), s.deps.Costs.SessionLimitUSD)
	} else {
		sessions = toSessionList(s.deps.Hooks.Sessions(), s.deps.Costs.SessionLimitUSD)
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleSession(c *gin.Context) {
	id := c.Param("id")
	sess := s.deps.Hooks.Session(id)
	if sess == nil {
		notFound(c, "session not found")
		return
	}

	commits := make([]commitDTO, 0)
	for _, commit := range s.deps.Hooks.SessionCommits(id) {
		commits = append(commits, toCommitDTO(commit))
	}

	resp := gin.H{
		"session": toSessionDTO(*sess, s.deps.Costs.SessionLimitUSD),
		"commits": commits,
	}
	ref := enrich.CanonicalRef("", id, "")
	if e, ok, err := s.deps.Enrichments.Get(ref); err == nil && ok {
		resp["enrichment"] = toEnrichmentDTO(e)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSessionUsages(c *gin.Context) {
	id := c.Param("id")
	if s.deps.Hooks.Session(id) == nil {
		notFound(c, "session not found")
		return
	}
	limit, ok := intQuery(c, "limit", defaultUsagesLimit)
	if !ok {
		return
	}

	usages := s.deps.Hooks.SessionToolUsages(id, limit)
	out := make([]toolUsageDTO, 0, len(usages))
	for _, u := range usages {
		out = append(out, toToolUsageDTO(u))
	}
	c.JSON(http.StatusOK, gin.H{"usages": out})
}

func (s *Server) handleEnrichSession(c *gin.Context) {
	id := c.Param("id")
	sess := s.deps.Hooks.Session(id)
	if sess == nil {
		notFound(c, "session not found")
		return
	}

	var body struct {
		CorrelationID string `json:"correlation_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid JSON body")
			return
		}
	}

	usages := s.deps.Hooks.SessionToolUsages(id, 0)
	e, err := s.deps.Pipeline.Enrich(c.Request.Context(), sess, usages, body.CorrelationID, "")
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEnrichmentDTO(*e))
}

func (s *Server) handleToolStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": toToolStatsList(s.deps.Hooks.ToolStatsSnapshot())})
}

func (s *Server) handleDailyStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"daily": toDailyStatsList(s.deps.Hooks.DailyStatsSnapshot(), s.deps.Costs.DailyLimitUSD)})
}

func (s *Server) handleTimeline(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	since, ok := timeQuery(c, "since")
	if !ok {
		return
	}
	until, ok := timeQuery(c, "until")
	if !ok {
		return
	}

	result, err := s.deps.Audit.CompleteTimeline(c.Request.Context(), timeline.Query{
		Limit:           limit,
		Offset:          offset,
		Category:        c.Query("category"),
		Since:           since,
		Until:           until,
		IncludeInferred: boolQuery(c, "include_inferred"),
	})
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTimelineResultDTO(result))
}

func (s *Server) handleEnrichments(c *gin.Context) {
	enrichments, err := s.deps.Enrichments.List()
	if err != nil {
		internalError(c, err)
		return
	}
	out := make([]enrichmentDTO, 0, len(enrichments))
	for _, e := range enrichments {
		out = append(out, toEnrichmentDTO(e))
	}
	c.JSON(http.StatusOK, gin.H{"enrichments": out})
}

func (s *Server) handleEnrichment(c *gin.Context) {
	e, ok, err := s.deps.Enrichments.Get(c.Param("ref"))
	if err != nil {
		internalError(c, err)
		return
	}
	if !ok {
		notFound(c, "enrichment not found")
		return
	}
	c.JSON(http.StatusOK, toEnrichmentDTO(e))
}

func (s *Server) handleGetAnnotation(c *gin.Context) {
	a, ok, err := s.deps.Annotations.Get(c.Param("ref"))
	if err != nil {
		internalError(c, err)
		return
	}
	if !ok {
		notFound(c, "annotation not found")
		return
	}
	c.JSON(http.StatusOK, toAnnotationDTO(a))
}

func (s *Server) handlePutAnnotation(c *gin.Context) {
	ref := c.Param("ref")

	var body struct {
		Feedback       string   `json:"feedback"`
		Notes          string   `json:"notes"`
		Tags           []string `json:"tags"`
		Rating         int      `json:"rating"`
		WorkflowStatus string   `json:"workflow_status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	a := enrich.Annotation{
		Feedback:       body.Feedback,
		Notes:          body.Notes,
		Tags:           body.Tags,
		Rating:         body.Rating,
		WorkflowStatus: body.WorkflowStatus,
	}
	if err := a.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	stored, err := s.deps.Annotations.Set(ref, a)
	if err != nil {
		internalError(c, err)
		return
	}
	s.deps.Audit.Record(c.Request.Context(), timeline.CategoryAnnotation, timeline.ActionUpdated, ref,
		map[string]any{"feedback": stored.Feedback})
	c.JSON(http.StatusOK, toAnnotationDTO(stored))
}

func (s *Server) metadataStore(kind string) *enrich.MetadataStore {
	switch kind {
	case "agents":
		return s.deps.AgentMeta
	case "conversations":
		return s.deps.ConvMeta
	}
	return nil
}

func (s *Server) handleGetMetadata(c *gin.Context) {
	store := s.metadataStore(c.Param("kind"))
	if store == nil {
		badRequest(c, "metadata kind must be agents or conversations")
		return
	}
	m, ok, err := store.Get(c.Param("id"))
	if err != nil {
		internalError(c, err)
		return
	}
	if !ok {
		notFound(c, "metadata not found")
		return
	}
	c.JSON(http.StatusOK, toMetadataDTO(m))
}

func (s *Server) handlePutMetadata(c *gin.Context) {
	kind := c.Param("kind")
	store := s.metadataStore(kind)
	if store == nil {
		badRequest(c, "metadata kind must be agents or conversations")
		return
	}

	var body struct {
		CustomName string   `json:"custom_name"`
		Aliases    []string `json:"aliases"`
		Notes      string   `json:"notes"`
		Tags       []string `json:"tags"`
		Color      string   `json:"color"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	id := c.Param("id")
	stored, err := store.Set(id, enrich.EntityMetadata{
		CustomName: body.CustomName,
		Aliases:    body.Aliases,
		Notes:      body.Notes,
		Tags:       body.Tags,
		Color:      body.Color,
	})
	if err != nil {
		internalError(c, err)
		return
	}
	s.deps.Audit.Record(c.Request.Context(), timeline.CategoryMetadata, timeline.ActionUpdated, id,
		map[string]any{"kind": kind})
	c.JSON(http.StatusOK, toMetadataDTO(stored))
}

func (s *Server) handleRegisterWrapper(c *gin.Context) {
	var body struct {
		RunID     string `json:"run_id"`
		PID       int32  `json:"pid"`
		Agent     string `json:"agent"`
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
		Command   string `json:"command"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if body.PID <= 0 || body.Agent == "" {
		badRequest(c, "pid and agent are required")
		return
	}
	status := livestore.AgentState(body.Status)
	switch status {
	case "":
		status = livestore.StateWorking
	case livestore.StateWorking, livestore.StateWaiting:
	default:
		badRequest(c, "status must be WORKING or WAITING")
		return
	}

	now := time.Now()
	s.deps.Live.SetWrapper(livestore.WrapperState{
		PID:          body.PID,
		Agent:        body.Agent,
		Status:       status,
		SessionID:    body.SessionID,
		StartedAt:    now,
		LastOutputAt: now,
	})

	if body.RunID != "" {
		if _, known, _ := s.deps.Managed.Get(body.RunID); !known {
			if _, err := s.deps.Managed.Start(body.RunID, body.Command, body.PID); err != nil {
				logging.Warn(c.Request.Context(), "failed to persist managed session", "runId", body.RunID, "error", err)
			} else {
				s.deps.Audit.Record(c.Request.Context(), timeline.CategoryWrapper, timeline.ActionStarted, body.RunID,
					map[string]any{"pid": body.PID, "agent": body.Agent})
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}

func (s *Server) handleDeregisterWrapper(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		badRequest(c, "pid must be an integer")
		return
	}
	s.deps.Live.RemoveWrapper(int32(pid))

	if runID := c.Query("run_id"); runID != "" {
		exitCode, ok := intQuery(c, "exit_code", 0)
		if !ok {
			return
		}
		if _, err := s.deps.Managed.End(runID, exitCode); err != nil {
			logging.Warn(c.Request.Context(), "failed to close managed session", "runId", runID, "error", err)
		} else {
			s.deps.Audit.Record(c.Request.Context(), timeline.CategoryWrapper, timeline.ActionEnded, runID,
				map[string]any{"exit_code": exitCode})
		}
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}

// hookPayload is the union of fields the agent hook scripts post. Each
// handler picks the ones its event requires.
type hookPayload struct {
	SessionID      string          `json:"session_id"`
	CorrelationID  string          `json:"correlation_id"`
	TranscriptPath string          `json:"transcript_path"`
	Cwd            string          `json:"cwd"`
	PermissionMode string          `json:"permission_mode"`
	Source         string          `json:"source"`
	PID            int32           `json:"pid"`
	ToolUseID      string          `json:"tool_use_id"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input"`
	ToolResponse   json.RawMessage `json:"tool_response"`
	Error          string          `json:"error"`
	RuleName       string          `json:"rule_name"`
	Reason         string          `json:"reason"`
	CommitHash     string          `json:"commit_hash"`
	Message        string          `json:"message"`
	RepoPath       string          `json:"repo_path"`
	Awaiting       *bool           `json:"awaiting"`
	Reset          bool            `json:"reset"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	CostUSD        float64         `json:"cost_usd"`
	Model          string          `json:"model"`
}

func bindHook(c *gin.Context, event string) (hookPayload, bool) {
	var p hookPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid JSON body")
		return p, false
	}
	hookEvents.WithLabelValues(event).Inc()
	return p, true
}

func continueOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"result": "continue"})
}

func (s *Server) handleHookSessionStart(c *gin.Context) {
	p, ok := bindHook(c, "session-start")
	if !ok {
		return
	}
	if err := paths.ValidateSessionID(p.SessionID); err != nil {
		badRequest(c, err.Error())
		return
	}

	s.deps.Hooks.SessionStart(p.SessionID, p.TranscriptPath, p.Cwd, p.PermissionMode, p.Source)
	if p.PID > 0 {
		s.deps.Hooks.SetSessionPID(p.SessionID, p.PID)
	}
	s.deps.Pipeline.MarkSessionStart(c.Request.Context(), p.SessionID, p.Cwd)
	s.deps.Audit.Record(c.Request.Context(), timeline.CategorySession, timeline.ActionStarted, p.SessionID,
		map[string]any{"cwd": p.Cwd, "trigger": p.Source})
	continueOK(c)
}

func (s *Server) handleHookSessionEnd(c *gin.Context) {
	p, ok := bindHook(c, "session-end")
	if !ok {
		return
	}
	if p.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}

	sess := s.deps.Hooks.SessionEnd(p.SessionID)
	s.deps.Audit.Record(c.Request.Context(), timeline.CategorySession, timeline.ActionEnded, p.SessionID, nil)
	if sess != nil {
		// Enrichment shells out to git; keep the hook callback fast.
		snapshot := *sess
		usages := s.deps.Hooks.SessionToolUsages(p.SessionID, 0)
		correlationID := p.CorrelationID
		go func() {
			ctx := logging.WithComponent(context.Background(), "enrich")
			if _, err := s.deps.Pipeline.Enrich(ctx, &snapshot, usages, correlationID, ""); err != nil {
				logging.Warn(ctx, "session enrichment failed", "sessionId", snapshot.SessionID, "error", err)
			}
		}()
	}
	continueOK(c)
}

func (s *Server) handleHookPreToolUse(c *gin.Context) {
	p, ok := bindHook(c, "pre-tool-use")
	if !ok {
		return
	}
	if p.SessionID == "" || p.ToolUseID == "" || p.ToolName == "" {
		badRequest(c, "session_id, tool_use_id and tool_name are required")
		return
	}
	s.deps.Hooks.RecordPreToolUse(p.SessionID, p.ToolUseID, p.ToolName, p.ToolInput, p.Cwd)
	continueOK(c)
}

func (s *Server) handleHookPostToolUse(c *gin.Context) {
	p, ok := bindHook(c, "post-tool-use")
	if !ok {
		return
	}
	if p.ToolUseID == "" {
		badRequest(c, "tool_use_id is required")
		return
	}
	s.deps.Hooks.RecordPostToolUse(p.ToolUseID, p.ToolResponse, p.Error)
	continueOK(c)
}

func (s *Server) handleHookSecurityBlock(c *gin.Context) {
	p, ok := bindHook(c, "security-block")
	if !ok {
		return
	}
	if p.SessionID == "" || p.ToolName == "" {
		badRequest(c, "session_id and tool_name are required")
		return
	}
	s.deps.Hooks.RecordSecurityBlock(p.SessionID, p.ToolName, p.ToolInput, p.RuleName, p.Reason)
	continueOK(c)
}

func (s *Server) handleHookCommit(c *gin.Context) {
	p, ok := bindHook(c, "commit")
	if !ok {
		return
	}
	if p.SessionID == "" || p.CommitHash == "" {
		badRequest(c, "session_id and commit_hash are required")
		return
	}
	s.deps.Hooks.RecordCommit(p.SessionID, p.CommitHash, p.Message, p.RepoPath)
	s.deps.Audit.Record(c.Request.Context(), timeline.CategoryCommit, timeline.ActionRecorded, p.CommitHash,
		map[string]any{"sessionId": p.SessionID})
	continueOK(c)
}

func (s *Server) handleHookAwaiting(c *gin.Context) {
	p, ok := bindHook(c, "awaiting")
	if !ok {
		return
	}
	if p.SessionID == "" || p.Awaiting == nil {
		badRequest(c, "session_id and awaiting are required")
		return
	}
	s.deps.Hooks.UpdateSessionAwaiting(p.SessionID, *p.Awaiting)
	continueOK(c)
}

// handleHookAutoContinue maintains the retry counter for the host agent's
// auto-continue policy. The response carries the new count so the caller
// can enforce its own attempt cap.
func (s *Server) handleHookAutoContinue(c *gin.Context) {
	p, ok := bindHook(c, "auto-continue")
	if !ok {
		return
	}
	if p.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}
	if p.Reset {
		s.deps.Hooks.ResetAutoContinueAttempts(p.SessionID)
		continueOK(c)
		return
	}
	attempts := s.deps.Hooks.IncrementAutoContinueAttempts(p.SessionID)
	c.JSON(http.StatusOK, gin.H{"result": "continue", "attempts": attempts})
}

func (s *Server) handleHookTokens(c *gin.Context) {
	p, ok := bindHook(c, "tokens")
	if !ok {
		return
	}
	if p.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}

	cost := p.CostUSD
	if cost == 0 && (p.InputTokens > 0 || p.OutputTokens > 0) {
		cost = s.deps.Pricing.Cost(p.Model, pricing.Usage{
			InputTokens:  p.InputTokens,
			OutputTokens: p.OutputTokens,
		})
	}
	s.deps.Hooks.UpdateSessionTokens(p.SessionID, p.InputTokens, p.OutputTokens, cost)
	continueOK(c)
}
