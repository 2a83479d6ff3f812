package hookstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// maxCommitMessageLen bounds stored commit messages.
const maxCommitMessageLen = 200

// maxResponseLen bounds stored tool responses. Truncation keeps the tail
// because test and build summaries land at the end of output.
const maxResponseLen = 8192

// RecordPreToolUse creates a pending usage for the tool-use id and bumps
// the session's counters. A repeated Pre for the same id refreshes the
// pending record without double-counting, so hook replays stay harmless.
func (s *Store) RecordPreToolUse(sessionID, toolUseID, toolName string, toolInput json.RawMessage, cwd string) *ToolUsage {
	now := time.Now()

	s.mu.Lock()
	usage, replay := s.pending[toolUseID]
	if !replay {
		usage = &ToolUsage{ToolUseID: toolUseID}
		s.pending[toolUseID] = usage
	}
	usage.SessionID = sessionID
	usage.ToolName = toolName
	usage.ToolInput = toolInput
	usage.Cwd = cwd
	usage.Timestamp = now

	var sessSnap *Session
	var sessSubs []func(Session)
	if sess, ok := s.sessions[sessionID]; ok && !replay {
		if sess.ToolsUsed == nil {
			sess.ToolsUsed = make(map[string]int)
		}
		sess.ToolCount++
		sess.ToolsUsed[toolName]++
		sess.AwaitingInput = false
		sess.LastActivity = now

		sessSnap = sess.clone()
		s.appendSessionLocked(sessSnap)
		sessSubs = slices.Clone(s.sessionSubs)
	}
	snap := usage.clone()
	s.mu.Unlock()

	if sessSnap != nil {
		notifySession(sessSubs, sessSnap)
	}
	return snap
}

// RecordPostToolUse completes the pending usage for the tool-use id:
// success iff no error text, duration measured from the Pre timestamp.
// Updates tool and daily stats, persists the completed record, and scans
// Bash output for a commit. Returns nil when no Pre was seen.
func (s *Store) RecordPostToolUse(toolUseID string, toolResponse json.RawMessage, errText string) *ToolUsage {
	now := time.Now()

	s.mu.Lock()
	usage, ok := s.pending[toolUseID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.pending, toolUseID)

	usage.Success = errText == ""
	usage.Error = errText
	usage.DurationMs = now.Sub(usage.Timestamp).Milliseconds()
	if usage.DurationMs < 0 {
		usage.DurationMs = 0
	}
	text := responseText(toolResponse)
	usage.Response = tailTruncate(text, maxResponseLen)

	stats := s.toolLocked(usage.ToolName)
	stats.TotalCalls++
	if usage.Success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	// Incremental mean; this form stays stable for small durations.
	stats.AvgDurationMs += (float64(usage.DurationMs) - stats.AvgDurationMs) / float64(stats.TotalCalls)

	day := s.dailyLocked(dateKey(now))
	day.ToolCalls++
	day.ByTool[usage.ToolName]++
	if !usage.Success {
		day.Failures++
	}

	s.storeUsageLocked(usage)
	s.saveStatsLocked()

	var commitSnap *Session
	if usage.ToolName == "Bash" && usage.Success {
		if hash, message, found := extractCommit(text); found {
			_, commitSnap = s.recordCommitLocked(usage.SessionID, hash, message, usage.Cwd, now)
		}
	}

	snap := usage.clone()
	usageSubs := slices.Clone(s.usageSubs)
	sessSubs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	notifyUsage(usageSubs, snap)
	if commitSnap != nil {
		notifySession(sessSubs, commitSnap)
	}
	return snap
}

// RecordSecurityBlock synthesises a failed usage for a tool call rejected
// by a security rule. The error text always starts with "SECURITY_BLOCKED:"
// and carries the rule name and reason when given.
func (s *Store) RecordSecurityBlock(sessionID, toolName string, toolInput json.RawMessage, ruleName, reason string) *ToolUsage {
	now := time.Now()

	var parts []string
	if ruleName != "" {
		parts = append(parts, "rule "+ruleName)
	}
	if reason != "" {
		parts = append(parts, reason)
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = "blocked by policy"
	}

	usage := &ToolUsage{
		ToolUseID: fmt.Sprintf("blocked-%d-%s", now.UnixNano(), toolName),
		SessionID: sessionID,
		ToolName:  toolName,
		ToolInput: toolInput,
		Timestamp: now,
		Success:   false,
		Error:     "SECURITY_BLOCKED: " + detail,
	}

	s.mu.Lock()
	var sessSnap *Session
	if sess, ok := s.sessions[sessionID]; ok {
		if sess.ToolsUsed == nil {
			sess.ToolsUsed = make(map[string]int)
		}
		sess.ToolCount++
		sess.ToolsUsed[toolName]++
		sess.LastActivity = now
		usage.Cwd = sess.Cwd

		sessSnap = sess.clone()
		s.appendSessionLocked(sessSnap)
	}

	stats := s.toolLocked(toolName)
	stats.TotalCalls++
	stats.Failures++
	// Blocked calls never ran; they enter the mean as a zero duration so
	// the incremental form keeps one count for everything.
	stats.AvgDurationMs += (0 - stats.AvgDurationMs) / float64(stats.TotalCalls)

	day := s.dailyLocked(dateKey(now))
	day.ToolCalls++
	day.ByTool[toolName]++
	day.Failures++

	s.storeUsageLocked(usage)
	s.saveStatsLocked()

	snap := usage.clone()
	usageSubs := slices.Clone(s.usageSubs)
	sessSubs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	logging.Warn(logging.WithSession(context.Background(), sessionID), "tool call blocked",
		"tool", toolName, "rule", ruleName)
	if sessSnap != nil {
		notifySession(sessSubs, sessSnap)
	}
	notifyUsage(usageSubs, snap)
	return snap
}

// RecordCommit attributes a commit to a session. Re-recording a hash the
// session already has is a no-op.
func (s *Store) RecordCommit(sessionID, commitHash, message, repoPath string) *Commit {
	s.mu.Lock()
	commit, sessSnap := s.recordCommitLocked(sessionID, commitHash, message, repoPath, time.Now())
	sessSubs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	if sessSnap != nil {
		notifySession(sessSubs, sessSnap)
	}
	return commit
}

func (s *Store) recordCommitLocked(sessionID, commitHash, message, repoPath string, now time.Time) (*Commit, *Session) {
	if commitHash == "" {
		return nil, nil
	}
	if len(message) > maxCommitMessageLen {
		cut := maxCommitMessageLen
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}

	for i := range s.commits[sessionID] {
		if s.commits[sessionID][i].CommitHash == commitHash {
			existing := s.commits[sessionID][i]
			return &existing, nil
		}
	}

	commit := Commit{
		SessionID:  sessionID,
		CommitHash: commitHash,
		Message:    message,
		RepoPath:   repoPath,
		Timestamp:  now,
	}
	s.commits[sessionID] = append(s.commits[sessionID], commit)
	s.appendCommitLocked(&commit)

	var snap *Session
	if sess, ok := s.sessions[sessionID]; ok && !slices.Contains(sess.Commits, commitHash) {
		sess.Commits = append(sess.Commits, commitHash)
		snap = sess.clone()
		s.appendSessionLocked(snap)
	}
	return &commit, snap
}

// storeUsageLocked appends a completed usage to the in-memory window and
// the partition file, evicting the oldest record once over the cap.
func (s *Store) storeUsageLocked(usage *ToolUsage) {
	s.usages = append(s.usages, usage)
	if over := len(s.usages) - s.opts.MaxToolUsages; over > 0 {
		s.usages = slices.Delete(s.usages, 0, over)
	}
	s.appendUsageLocked(usage)
}

// Commit extraction regexes, tried in priority order against Bash output:
// the "[branch hash] subject" line printed by git commit, then a short
// hash starting a line, then "commit <full-hash>" from git log/show.
var (
	bracketCommitRegex = regexp.MustCompile(`\[([^\]]+)\s([0-9a-f]{7,40})\]\s*(.*)`)
	lineHashRegex      = regexp.MustCompile(`(?m)^([0-9a-f]{7,40})\s+(\S.*)`)
	fullHashRegex      = regexp.MustCompile(`commit ([0-9a-f]{40})\b`)
)

func extractCommit(text string) (hash, message string, ok bool) {
	if text == "" {
		return "", "", false
	}
	if m := bracketCommitRegex.FindStringSubmatch(text); m != nil {
		return m[2], strings.TrimSpace(m[3]), true
	}
	if m := lineHashRegex.FindStringSubmatch(text); m != nil {
		return m[1], strings.TrimSpace(m[2]), true
	}
	if m := fullHashRegex.FindStringSubmatch(text); m != nil {
		return m[1], "", true
	}
	return "", "", false
}

// responseText flattens a tool response payload to scannable text. Hook
// payloads arrive as a bare string or as an object with output-ish fields.
func responseText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		var parts []string
		for _, key := range []string{"stdout", "output", "content", "text"} {
			if v, ok := obj[key].(string); ok && v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// tailTruncate keeps the last max bytes of s, cutting at a rune boundary.
func tailTruncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
