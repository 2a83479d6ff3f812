package hookstore

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// CleanupDeadSessions closes active sessions whose process has exited or
// that have gone stale, and returns the closed session ids. liveAgents
// maps currently-running agent PIDs to their cwd and label.
//
// A session bound to a PID closes as soon as that PID is gone. An unbound
// session closes after an hour of inactivity unconditionally, or after the
// staleness threshold when no live agent shares its cwd.
func (s *Store) CleanupDeadSessions(liveAgents map[int32]AgentInfo) []string {
	now := time.Now()

	s.mu.Lock()
	var snaps []*Session
	for _, sess := range s.sessions {
		if !sess.Active() {
			continue
		}
		if sess.PID != 0 {
			if _, alive := liveAgents[sess.PID]; alive {
				continue
			}
		} else {
			inactive := now.Sub(sess.LastActivity)
			if inactive <= s.opts.StaleAfter {
				continue
			}
			if inactive <= maxInactive && cwdMatchesAny(liveAgents, sess.Cwd) {
				continue
			}
		}
		end := now
		sess.EndTime = &end
		snap := sess.clone()
		s.appendSessionLocked(snap)
		snaps = append(snaps, snap)
	}
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	closed := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		closed = append(closed, snap.SessionID)
		logging.Info(logging.WithSession(context.Background(), snap.SessionID),
			"session closed by reclamation", "pid", snap.PID)
		notifySession(subs, snap)
	}
	return closed
}

// MatchSessionsToAgents binds unbound active sessions to live agents when
// exactly one unclaimed agent shares the session's cwd. Returns the number
// of sessions bound. Once bound, a session keeps its PID until it ends.
func (s *Store) MatchSessionsToAgents(liveAgents map[int32]AgentInfo) int {
	s.mu.Lock()

	claimed := make(map[int32]bool)
	for _, sess := range s.sessions {
		if sess.Active() && sess.PID != 0 {
			claimed[sess.PID] = true
		}
	}

	var snaps []*Session
	for _, sess := range s.sessions {
		if !sess.Active() || sess.PID != 0 || sess.Cwd == "" {
			continue
		}
		var match int32
		matches := 0
		for pid, info := range liveAgents {
			if claimed[pid] || !sameDir(info.Cwd, sess.Cwd) {
				continue
			}
			match = pid
			matches++
		}
		if matches != 1 {
			continue
		}
		sess.PID = match
		sess.AgentLabel = liveAgents[match].Label
		claimed[match] = true

		snap := sess.clone()
		s.appendSessionLocked(snap)
		snaps = append(snaps, snap)
	}
	subs := slices.Clone(s.sessionSubs)
	s.mu.Unlock()

	for _, snap := range snaps {
		logging.Debug(logging.WithSession(context.Background(), snap.SessionID),
			"session matched to agent", "pid", snap.PID, "label", snap.AgentLabel)
		notifySession(subs, snap)
	}
	return len(snaps)
}

// CleanupOldData evicts sessions older than maxDays, prunes tool usages to
// the same horizon and then to the maxToolUsages cap (most recent kept),
// and drops rollups and pending records nothing can reference anymore.
// Returns how many sessions and usages were removed.
func (s *Store) CleanupOldData(maxDays, maxToolUsages int) (sessionsRemoved, usagesRemoved int) {
	if maxDays <= 0 {
		maxDays = s.opts.MaxDays
	}
	if maxToolUsages <= 0 {
		maxToolUsages = s.opts.MaxToolUsages
	}
	now := time.Now()
	cutoff := now.Add(-time.Duration(maxDays) * 24 * time.Hour)

	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.StartTime.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.commits, id)
			sessionsRemoved++
		}
	}

	kept := s.usages[:0]
	for _, usage := range s.usages {
		if usage.Timestamp.Before(cutoff) {
			usagesRemoved++
			continue
		}
		kept = append(kept, usage)
	}
	s.usages = kept
	if over := len(s.usages) - maxToolUsages; over > 0 {
		s.usages = slices.Delete(s.usages, 0, over)
		usagesRemoved += over
	}

	pendingCutoff := now.Add(-s.opts.LoadWindow)
	for id, usage := range s.pending {
		if usage.Timestamp.Before(pendingCutoff) {
			delete(s.pending, id)
		}
	}

	statsChanged := false
	for date := range s.stats.DailyStats {
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil || day.Before(cutoff) {
			delete(s.stats.DailyStats, date)
			statsChanged = true
		}
	}
	if statsChanged {
		s.saveStatsLocked()
	}
	s.mu.Unlock()

	if sessionsRemoved > 0 || usagesRemoved > 0 {
		logging.Debug(context.Background(), "hook store cleanup",
			"sessions_removed", sessionsRemoved, "usages_removed", usagesRemoved)
	}
	return sessionsRemoved, usagesRemoved
}

func cwdMatchesAny(liveAgents map[int32]AgentInfo, cwd string) bool {
	if cwd == "" {
		return false
	}
	for _, info := range liveAgents {
		if sameDir(info.Cwd, cwd) {
			return true
		}
	}
	return false
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
