// Package procscan discovers running coding-agent processes, classifies
// their activity from a rolling CPU history, and publishes the agent map
// to the live store. Ended processes trigger wrapper eviction and hook
// store dead-session reconciliation.
package procscan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
)

const (
	// historySize bounds the per-PID CPU sample ring.
	historySize = 12

	// recentWindow is how many samples feed the ACTIVE check.
	recentWindow = 3

	// missingTicksBeforeDrop is how many consecutive absent ticks a PID's
	// history survives.
	missingTicksBeforeDrop = 2

	// snapshotEvery throttles snapshot persistence; lifecycle events are
	// written on every change.
	snapshotEvery = time.Minute

	// maxCommandLen bounds persisted command lines.
	maxCommandLen = 300
)

// ProcessEvent is one lifecycle transition written to the events
// partition.
type ProcessEvent struct {
	Type      string    `json:"type"` // "started" or "ended"
	PID       int32     `json:"pid"`
	Label     string    `json:"label"`
	Command   string    `json:"command,omitempty"`
	RepoRoot  string    `json:"repoRoot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a periodic full capture of the agent map, written to the
// snapshots partition.
type Snapshot struct {
	Timestamp time.Time                `json:"timestamp"`
	Agents    []livestore.AgentProcess `json:"agents"`
}

// cpuHistory is per-PID state carried across ticks.
type cpuHistory struct {
	samples      []float64
	prevTotal    float64
	prevAt       time.Time
	lastActiveAt time.Time
	missing      int
}

// Scanner polls the OS process table on a fixed interval.
type Scanner struct {
	cfg      config.ProcessConfig
	matchers []compiledMatcher
	store    *livestore.Store
	hooks    *hookstore.Store
	dataDir  string

	// OnTick, when set before Start, observes each completed pass.
	OnTick func(start time.Time)

	// enumerate lists matched processes; swapped out by tests.
	enumerate func(ctx context.Context) ([]procSample, error)

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	paused         bool
	history        map[int32]*cpuHistory
	prev           map[int32]livestore.AgentProcess
	lastSnapshotAt time.Time
}

// New builds a scanner. dataDir is the processes data directory for
// snapshot and event partitions; empty disables persistence.
func New(cfg config.ProcessConfig, store *livestore.Store, hooks *hookstore.Store, dataDir string) (*Scanner, error) {
	matchers, err := compileMatchers(cfg.Matchers)
	if err != nil {
		return nil, fmt.Errorf("invalid process matchers: %w", err)
	}
	s := &Scanner{
		cfg:      cfg,
		matchers: matchers,
		store:    store,
		hooks:    hooks,
		dataDir:  dataDir,
		history:  make(map[int32]*cpuHistory),
		prev:     make(map[int32]livestore.AgentProcess),
	}
	s.enumerate = s.enumerateOS
	return s, nil
}

// Start launches the scan loop. Calling Start on a running scanner is a
// no-op.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, done)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SetPaused suppresses ticks without dropping accumulated CPU history.
func (s *Scanner) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(s.cfg.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			s.mu.Unlock()
			if !paused {
				s.Tick(ctx)
			}
		}
	}
}

// Tick runs one scan pass. Exported so the daemon can force a refresh.
func (s *Scanner) Tick(ctx context.Context) {
	start := time.Now()

	samples, err := s.enumerate(ctx)
	if err != nil {
		logging.Warn(ctx, "process enumeration failed", "error", err)
		return
	}

	now := time.Now()

	s.mu.Lock()
	agents := make(map[int32]livestore.AgentProcess, len(samples))
	for _, sample := range samples {
		agents[sample.PID] = s.buildAgentLocked(sample, now)
	}
	s.pruneHistoryLocked(agents)
	started, ended := diffPids(s.prev, agents)
	prev := s.prev
	s.prev = agents

	writeSnapshot := len(agents) > 0 && now.Sub(s.lastSnapshotAt) >= snapshotEvery
	if writeSnapshot {
		s.lastSnapshotAt = now
	}
	s.mu.Unlock()

	for _, pid := range ended {
		s.store.RemoveWrapper(pid)
	}
	s.store.SetAgents(agents)

	if s.hooks != nil {
		live := make(map[int32]hookstore.AgentInfo, len(agents))
		for pid, agent := range agents {
			live[pid] = hookstore.AgentInfo{Cwd: agent.Cwd, Label: agent.Label}
		}
		s.hooks.MatchSessionsToAgents(live)
		s.hooks.CleanupDeadSessions(live)
	}

	s.persistChanges(ctx, prev, agents, started, ended, writeSnapshot, now)

	if len(started) > 0 || len(ended) > 0 {
		logging.Debug(ctx, "agent set changed",
			"agents", len(agents), "started", len(started), "ended", len(ended))
	}
	logging.LogDuration(ctx, slog.LevelDebug, "process scan", start, "agents", len(agents))
	if s.OnTick != nil {
		s.OnTick(start)
	}
}

// buildAgentLocked folds one sample into its CPU history and produces the
// published agent record.
func (s *Scanner) buildAgentLocked(sample procSample, now time.Time) livestore.AgentProcess {
	hist, ok := s.history[sample.PID]
	if !ok {
		hist = &cpuHistory{lastActiveAt: now}
		s.history[sample.PID] = hist
	}
	hist.missing = 0

	var pct float64
	if !hist.prevAt.IsZero() {
		wall := now.Sub(hist.prevAt).Seconds()
		if wall > 0 && sample.CPUTotal >= hist.prevTotal {
			pct = (sample.CPUTotal - hist.prevTotal) / wall * 100
		}
	}
	hist.prevTotal = sample.CPUTotal
	hist.prevAt = now

	hist.samples = append(hist.samples, pct)
	if len(hist.samples) > historySize {
		hist.samples = hist.samples[len(hist.samples)-historySize:]
	}
	if pct >= s.cfg.ActiveCPUPercent {
		hist.lastActiveAt = now
	}

	heuristic := classify(hist, now, s.cfg.ActiveCPUPercent, time.Duration(s.cfg.StalledQuietSecs)*time.Second)

	return livestore.AgentProcess{
		PID:        sample.PID,
		Label:      sample.Label,
		Command:    truncate(sample.Cmdline, maxCommandLen),
		Executable: sample.Exe,
		CPUPercent: pct,
		MemoryKB:   sample.MemoryKB,
		Threads:    sample.Threads,
		TTY:        sample.TTY,
		Cwd:        sample.Cwd,
		RepoRoot:   paths.RepoRootFrom(sample.Cwd),
		StartedAt:  sample.StartedAt,
		Heuristic:  heuristic,
	}
}

// classify derives the heuristic state: ACTIVE on recent CPU at or above
// the threshold, STALLED after a long quiet stretch, IDLE otherwise.
func classify(hist *cpuHistory, now time.Time, activeCPU float64, stalledAfter time.Duration) *livestore.AgentHeuristic {
	recent := 0.0
	from := len(hist.samples) - recentWindow
	if from < 0 {
		from = 0
	}
	for _, v := range hist.samples[from:] {
		if v > recent {
			recent = v
		}
	}

	quiet := now.Sub(hist.lastActiveAt)
	state := livestore.StateIdle
	switch {
	case recent >= activeCPU:
		state = livestore.StateActive
		quiet = 0
	case stalledAfter > 0 && quiet > stalledAfter:
		state = livestore.StateStalled
	}

	return &livestore.AgentHeuristic{
		State:        state,
		RecentCPU:    recent,
		QuietSeconds: int(quiet.Seconds()),
	}
}

// pruneHistoryLocked ages out history for PIDs absent from the current
// tick; two consecutive absences drop the entry.
func (s *Scanner) pruneHistoryLocked(current map[int32]livestore.AgentProcess) {
	for pid, hist := range s.history {
		if _, ok := current[pid]; ok {
			continue
		}
		hist.missing++
		if hist.missing >= missingTicksBeforeDrop {
			delete(s.history, pid)
		}
	}
}

// diffPids returns the PIDs present only in the new map and only in the
// old map.
func diffPids(prev, curr map[int32]livestore.AgentProcess) (started, ended []int32) {
	for pid := range curr {
		if _, ok := prev[pid]; !ok {
			started = append(started, pid)
		}
	}
	for pid := range prev {
		if _, ok := curr[pid]; !ok {
			ended = append(ended, pid)
		}
	}
	return started, ended
}

// persistChanges writes lifecycle events and throttled snapshots. All
// failures are logged and swallowed.
func (s *Scanner) persistChanges(ctx context.Context, prev, curr map[int32]livestore.AgentProcess, started, ended []int32, snapshot bool, now time.Time) {
	if s.dataDir == "" {
		return
	}
	eventsPattern := filepath.Join(s.dataDir, paths.ProcessEventsPattern)

	for _, pid := range started {
		agent := curr[pid]
		event := ProcessEvent{
			Type: "started", PID: pid, Label: agent.Label,
			Command: agent.Command, RepoRoot: agent.RepoRoot, Timestamp: now,
		}
		if err := recordlog.AppendPartition(eventsPattern, event); err != nil {
			logging.Warn(ctx, "failed to append process event", "error", err)
		}
	}
	for _, pid := range ended {
		agent := prev[pid]
		event := ProcessEvent{
			Type: "ended", PID: pid, Label: agent.Label,
			Command: agent.Command, RepoRoot: agent.RepoRoot, Timestamp: now,
		}
		if err := recordlog.AppendPartition(eventsPattern, event); err != nil {
			logging.Warn(ctx, "failed to append process event", "error", err)
		}
	}

	if snapshot {
		agents := make([]livestore.AgentProcess, 0, len(curr))
		for _, agent := range curr {
			agents = append(agents, agent)
		}
		snapshotPattern := filepath.Join(s.dataDir, paths.ProcessSnapshotsPattern)
		if err := recordlog.AppendPartition(snapshotPattern, Snapshot{Timestamp: now, Agents: agents}); err != nil {
			logging.Warn(ctx, "failed to append process snapshot", "error", err)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
