package hookstore

import (
	"context"
	"slices"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// SessionStart creates or refreshes a session. A repeated start for a known
// id overwrites the metadata fields but never re-increments the daily
// session count and never revives an ended session.
func (s *Store) SessionStart(id, transcriptPath, cwd, permissionMode, source string) *Session {
	now := time.Now()

	s.mu.Lock()
	sess, known := s.sessions[id]
	if !known {
		sess = &Session{
			SessionID:    id,
			StartTime:    now,
			LastActivity: now,
			ToolsUsed:    make(map[string]int),
		}
		s.sessions[id] = sess

		day := s.dailyLocked(dateKey(now))
		day.Sessions++
		s.saveStatsLocked()
	}
	sess.TranscriptPath = transcriptPath
	sess.Cwd = cwd
	sess.PermissionMode = permissionMode
	sess.Source = source
	if sess.Active() {
		sess.LastActivity = now
	}

	snap := sess.clone()
	s.appendSessionLocked(snap)
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	logging.Info(logging.WithSession(context.Background(), id), "session started",
		"cwd", cwd, "source", source, "known", known)
	notifySession(subs, snap)
	return snap
}

// SessionEnd stamps the end time and returns the session, or nil if the id
// is unknown. Ending an already-ended session is a no-op.
func (s *Store) SessionEnd(id string) *Session {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !sess.Active() {
		snap := sess.clone()
		s.mu.Unlock()
		return snap
	}

	now := time.Now()
	sess.EndTime = &now
	sess.LastActivity = now

	snap := sess.clone()
	s.appendSessionLocked(snap)
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	logging.Info(logging.WithSession(context.Background(), id), "session ended",
		"tool_count", snap.ToolCount)
	notifySession(subs, snap)
	return snap
}

// UpdateSessionAwaiting flips the awaiting-input flag. Returns nil if the
// session is unknown.
func (s *Store) UpdateSessionAwaiting(id string, awaiting bool) *Session {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	sess.AwaitingInput = awaiting
	sess.LastActivity = time.Now()

	snap := sess.clone()
	s.appendSessionLocked(snap)
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	notifySession(subs, snap)
	return snap
}

// UpdateSessionTokens accumulates token counts and estimated cost onto the
// session and the day's rollup. Returns nil if the session is unknown.
func (s *Store) UpdateSessionTokens(id string, input, output int64, costUSD float64) *Session {
	now := time.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	sess.TotalInputTokens += input
	sess.TotalOutputTokens += output
	sess.EstimatedCostUSD += costUSD
	sess.LastActivity = now

	day := s.dailyLocked(dateKey(now))
	day.InputTokens += input
	day.OutputTokens += output
	day.CostUSD += costUSD
	s.saveStatsLocked()

	snap := sess.clone()
	s.appendSessionLocked(snap)
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	notifySession(subs, snap)
	return snap
}

// IncrementAutoContinueAttempts bumps the retry counter and returns the new
// value, or 0 if the session is unknown.
func (s *Store) IncrementAutoContinueAttempts(id string) int {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	sess.AutoContinueAttempts++
	attempts := sess.AutoContinueAttempts

	snap := sess.clone()
	s.appendSessionLocked(snap)
	s.mu.Unlock()
	return attempts
}

// ResetAutoContinueAttempts zeroes the retry counter.
func (s *Store) ResetAutoContinueAttempts(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.AutoContinueAttempts == 0 {
		s.mu.Unlock()
		return
	}
	sess.AutoContinueAttempts = 0

	snap := sess.clone()
	s.appendSessionLocked(snap)
	s.mu.Unlock()
}

// SetSessionPID binds a monitored process to the session. Returns nil if
// the session is unknown.
func (s *Store) SetSessionPID(id string, pid int32) *Session {
	return s.bindSession(id, pid, "")
}

func (s *Store) bindSession(id string, pid int32, label string) *Session {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	sess.PID = pid
	if label != "" {
		sess.AgentLabel = label
	}

	snap := sess.clone()
	s.appendSessionLocked(snap)
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	logging.Debug(logging.WithSession(context.Background(), id), "session bound to process",
		"pid", pid, "label", label)
	notifySession(subs, snap)
	return snap
}
