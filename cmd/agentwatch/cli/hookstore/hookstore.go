// Package hookstore is the authoritative, persistent record of agent
// sessions and tool invocations, fed by hook callbacks and rolled up into
// per-tool and per-day stats.
//
// State lives in memory under one mutex; every mutation also appends a
// JSONL line to a date-partitioned file so a restart can rebuild the
// recent window. Append failures are logged and swallowed: the in-memory
// state stays authoritative.
package hookstore

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
)

const (
	// defaultLoadWindow is how far back partition files are replayed on
	// startup.
	defaultLoadWindow = 24 * time.Hour

	// defaultMaxDays is the session retention horizon.
	defaultMaxDays = 30

	// defaultMaxToolUsages caps the in-memory tool-usage window.
	defaultMaxToolUsages = 10000

	// defaultStaleAfter is the inactivity threshold for unbound sessions
	// whose cwd no longer matches a live agent.
	defaultStaleAfter = 5 * time.Minute

	// maxInactive closes any unbound session regardless of cwd matches.
	maxInactive = time.Hour
)

// Legacy non-partitioned file names, still loaded on startup.
const (
	legacySessionsFile   = "sessions.jsonl"
	legacyToolUsagesFile = "tool_usages.jsonl"
	legacyCommitsFile    = "commits.jsonl"
)

// Options configures a Store.
type Options struct {
	// Dir is the hooks data directory (partition files plus stats.json).
	Dir string

	// MaxDays is the session retention horizon in days.
	MaxDays int

	// MaxToolUsages caps the in-memory completed-usage window.
	MaxToolUsages int

	// StaleAfter is the unbound-session staleness threshold.
	StaleAfter time.Duration

	// LoadWindow is how much partition history is replayed into memory.
	// The daemon keeps the default; offline readers widen it to reach
	// older sessions.
	LoadWindow time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxDays <= 0 {
		o.MaxDays = defaultMaxDays
	}
	if o.MaxToolUsages <= 0 {
		o.MaxToolUsages = defaultMaxToolUsages
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.LoadWindow <= 0 {
		o.LoadWindow = defaultLoadWindow
	}
}

// Store holds sessions, tool usages, commits and stat rollups.
type Store struct {
	opts      Options
	statsPath string

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*ToolUsage
	usages   []*ToolUsage
	commits  map[string][]Commit
	stats    *statsFile

	sessionSubs []func(Session)
	usageSubs   []func(ToolUsage)
}

// New creates the store and replays the last 24 hours of partition files
// plus any legacy non-partitioned files. A missing or unreadable history is
// not fatal; a directory that cannot be created is.
func New(opts Options) (*Store, error) {
	opts.setDefaults()
	if err := paths.EnsureDir(opts.Dir); err != nil {
		return nil, fmt.Errorf("failed to create hooks directory: %w", err)
	}

	s := &Store{
		opts:      opts,
		statsPath: filepath.Join(opts.Dir, paths.StatsFileName),
		sessions:  make(map[string]*Session),
		pending:   make(map[string]*ToolUsage),
		commits:   make(map[string][]Commit),
		stats:     newStatsFile(),
	}
	s.load()
	return s, nil
}

// OnSessionChange registers a callback invoked with a snapshot after every
// session mutation. Callbacks run outside the store mutex.
func (s *Store) OnSessionChange(fn func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionSubs = append(s.sessionSubs, fn)
}

// OnToolUsage registers a callback invoked with each completed tool usage.
func (s *Store) OnToolUsage(fn func(ToolUsage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageSubs = append(s.usageSubs, fn)
}

// load rebuilds in-memory state from disk. Malformed lines were already
// skipped by the record log reader; legacy files are replayed before
// partitions so newer lines win.
func (s *Store) load() {
	ctx := context.Background()

	stats, err := jsonstore.Load(s.statsPath, newStatsFile())
	if err != nil {
		logging.Warn(ctx, "failed to load stats", "error", err)
	} else {
		if stats.ToolStats == nil {
			stats.ToolStats = make(map[string]*ToolStats)
		}
		if stats.DailyStats == nil {
			stats.DailyStats = make(map[string]*DailyStats)
		}
		s.stats = stats
	}

	now := time.Now()
	cutoff := now.Add(-s.opts.LoadWindow)

	for _, file := range s.historyFiles(legacySessionsFile, paths.SessionsPattern, cutoff) {
		records, err := recordlog.ReadAll[Session](file)
		if err != nil {
			logging.Warn(ctx, "failed to read session log", "file", file, "error", err)
			continue
		}
		// One line per mutation: the last occurrence per id is current.
		for i := range records {
			rec := records[i]
			if rec.SessionID == "" {
				continue
			}
			s.sessions[rec.SessionID] = &rec
		}
	}

	for _, file := range s.historyFiles(legacyToolUsagesFile, paths.ToolUsagesPattern, cutoff) {
		records, err := recordlog.ReadAll[ToolUsage](file)
		if err != nil {
			logging.Warn(ctx, "failed to read tool-usage log", "file", file, "error", err)
			continue
		}
		for i := range records {
			rec := records[i]
			if rec.ToolUseID == "" || rec.Timestamp.Before(cutoff) {
				continue
			}
			s.usages = append(s.usages, &rec)
		}
	}
	sort.SliceStable(s.usages, func(i, j int) bool {
		return s.usages[i].Timestamp.Before(s.usages[j].Timestamp)
	})
	if over := len(s.usages) - s.opts.MaxToolUsages; over > 0 {
		s.usages = slices.Delete(s.usages, 0, over)
	}

	for _, file := range s.historyFiles(legacyCommitsFile, paths.CommitsPattern, cutoff) {
		records, err := recordlog.ReadAll[Commit](file)
		if err != nil {
			logging.Warn(ctx, "failed to read commit log", "file", file, "error", err)
			continue
		}
		for _, rec := range records {
			if rec.SessionID == "" || rec.CommitHash == "" {
				continue
			}
			s.commits[rec.SessionID] = append(s.commits[rec.SessionID], rec)
		}
	}

	logging.Debug(ctx, "hook store loaded",
		"sessions", len(s.sessions),
		"tool_usages", len(s.usages),
	)
}

// historyFiles lists the files to replay for one record kind: the legacy
// unpartitioned file first, then partitions whose embedded date falls
// inside the load window, oldest first.
func (s *Store) historyFiles(legacyName, pattern string, cutoff time.Time) []string {
	var files []string

	legacy := filepath.Join(s.opts.Dir, legacyName)
	files = append(files, legacy)

	matches, err := filepath.Glob(filepath.Join(s.opts.Dir, pattern))
	if err != nil {
		return files
	}
	sort.Strings(matches)
	for _, match := range matches {
		date, ok := paths.PartitionDate(filepath.Base(match))
		if !ok {
			continue
		}
		// Partition dates are day-granular; include the cutoff's day.
		if date.Before(cutoff.Truncate(24 * time.Hour)) {
			continue
		}
		files = append(files, match)
	}
	return files
}

// appendSessionLocked persists one session mutation. Failures are logged
// and swallowed; memory stays authoritative.
func (s *Store) appendSessionLocked(sess *Session) {
	path := filepath.Join(s.opts.Dir, paths.SessionsPattern)
	if err := recordlog.AppendPartition(path, sess); err != nil {
		logging.Warn(context.Background(), "failed to append session record",
			"session_id", sess.SessionID, "error", err)
	}
}

func (s *Store) appendUsageLocked(usage *ToolUsage) {
	path := filepath.Join(s.opts.Dir, paths.ToolUsagesPattern)
	if err := recordlog.AppendPartition(path, usage); err != nil {
		logging.Warn(context.Background(), "failed to append tool-usage record",
			"tool_use_id", usage.ToolUseID, "error", err)
	}
}

func (s *Store) appendCommitLocked(commit *Commit) {
	path := filepath.Join(s.opts.Dir, paths.CommitsPattern)
	if err := recordlog.AppendPartition(path, commit); err != nil {
		logging.Warn(context.Background(), "failed to append commit record",
			"session_id", commit.SessionID, "error", err)
	}
}

func (s *Store) saveStatsLocked() {
	if err := jsonstore.Save(s.statsPath, s.stats); err != nil {
		logging.Warn(context.Background(), "failed to save stats", "error", err)
	}
}

func (s *Store) dailyLocked(date string) *DailyStats {
	day, ok := s.stats.DailyStats[date]
	if !ok {
		day = &DailyStats{Date: date, ByTool: make(map[string]int)}
		s.stats.DailyStats[date] = day
	}
	if day.ByTool == nil {
		day.ByTool = make(map[string]int)
	}
	return day
}

func (s *Store) toolLocked(name string) *ToolStats {
	stats, ok := s.stats.ToolStats[name]
	if !ok {
		stats = &ToolStats{}
		s.stats.ToolStats[name] = stats
	}
	return stats
}

// notifySession invokes session subscribers outside the lock.
func notifySession(subs []func(Session), snap *Session) {
	for _, fn := range subs {
		fn(*snap.clone())
	}
}

func notifyUsage(subs []func(ToolUsage), snap *ToolUsage) {
	for _, fn := range subs {
		fn(*snap.clone())
	}
}

// Session returns a copy of the session, or nil if unknown.
func (s *Store) Session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess.clone()
}

// Sessions returns copies of all retained sessions, newest first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// ActiveSessions returns copies of sessions without an end time, newest
// first.
func (s *Store) ActiveSessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for _, sess := range s.sessions {
		if sess.Active() {
			out = append(out, *sess.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// SessionCommits returns the commits attributed to a session, oldest first.
func (s *Store) SessionCommits(id string) []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits[id]...)
}

// SessionToolUsages returns completed usages for one session, oldest
// first, capped at limit when limit > 0.
func (s *Store) SessionToolUsages(sessionID string, limit int) []ToolUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ToolUsage
	for _, usage := range s.usages {
		if usage.SessionID == sessionID {
			out = append(out, *usage.clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// RecentToolUsages returns the most recent completed usages across all
// sessions, newest first, capped at limit when limit > 0.
func (s *Store) RecentToolUsages(limit int) []ToolUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ToolUsage, 0, len(s.usages))
	for i := len(s.usages) - 1; i >= 0; i-- {
		out = append(out, *s.usages[i].clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ToolStatsSnapshot returns a copy of the per-tool aggregates.
func (s *Store) ToolStatsSnapshot() map[string]ToolStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ToolStats, len(s.stats.ToolStats))
	for name, stats := range s.stats.ToolStats {
		out[name] = *stats
	}
	return out
}

// DailyStatsSnapshot returns a copy of the per-day aggregates.
func (s *Store) DailyStatsSnapshot() map[string]DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]DailyStats, len(s.stats.DailyStats))
	for date, day := range s.stats.DailyStats {
		copied := *day
		if day.ByTool != nil {
			copied.ByTool = make(map[string]int, len(day.ByTool))
			for k, v := range day.ByTool {
				copied.ByTool[k] = v
			}
		}
		out[date] = copied
	}
	return out
}

// SaveStats flushes the stats blob to disk. Housekeeping calls this; every
// mutation path already saves on change.
func (s *Store) SaveStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveStatsLocked()
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
