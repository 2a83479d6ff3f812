// Package reposcan keeps the live store's repo map fresh. A fast pass
// re-reads cheap status for known repos; a slow pass walks the configured
// roots for new repos and refreshes upstream ahead/behind counts, fetching
// first when the fetch policy allows.
package reposcan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// fetchMinInterval spaces out network fetches under the auto policy.
const fetchMinInterval = 30 * time.Second

// Scanner owns the two scan rhythms.
type Scanner struct {
	cfg   config.ReposConfig
	store *livestore.Store

	// OnTick, when set before Start, observes each completed pass.
	OnTick func(start time.Time)

	// git runs one git subprocess; swapped out by tests.
	git func(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error)

	fetchLimiter *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	paused bool
}

// New builds a scanner publishing into store.
func New(cfg config.ReposConfig, store *livestore.Store) *Scanner {
	return &Scanner{
		cfg:          cfg,
		store:        store,
		git:          runGit,
		fetchLimiter: rate.NewLimiter(rate.Every(fetchMinInterval), 1),
	}
}

// Start launches the scan loop; the first slow pass runs immediately.
// Calling Start on a running scanner is a no-op.
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

// Stop cancels the loop and waits for the in-flight pass to finish.
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

// SetPaused suppresses passes without forgetting known repos.
func (s *Scanner) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	fast := time.NewTicker(time.Duration(s.cfg.FastIntervalSecs) * time.Second)
	defer fast.Stop()
	slow := time.NewTicker(time.Duration(s.cfg.SlowIntervalSecs) * time.Second)
	defer slow.Stop()

	s.slowPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			if !s.isPaused() {
				s.fastPass(ctx)
			}
		case <-slow.C:
			if !s.isPaused() {
				s.slowPass(ctx)
			}
		}
	}
}

func (s *Scanner) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// fastPass refreshes status for already-known repos and drops vanished
// ones.
func (s *Scanner) fastPass(ctx context.Context) {
	start := time.Now()
	known := s.store.Repos()

	out := make(map[string]livestore.RepoStatus, len(known))
	for path, prev := range known {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			logging.Debug(ctx, "repo vanished", "path", path)
			continue
		}
		out[path] = s.scanRepo(ctx, path, prev, false)
	}
	s.store.SetRepos(out)
	logging.LogDuration(ctx, slog.LevelDebug, "repo fast pass", start, "repos", len(out))
	if s.OnTick != nil {
		s.OnTick(start)
	}
}

// slowPass re-discovers repos under the roots, unions them with the known
// set, and deep-scans everything.
func (s *Scanner) slowPass(ctx context.Context) {
	start := time.Now()

	found := discover(ctx, s.cfg.Roots, s.cfg.Ignore, s.cfg.MaxDepth)
	known := s.store.Repos()

	targets := make(map[string]bool, len(found)+len(known))
	for _, path := range found {
		targets[path] = true
	}
	for path := range known {
		targets[path] = true
	}

	out := make(map[string]livestore.RepoStatus, len(targets))
	for path := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			continue
		}
		out[path] = s.scanRepo(ctx, path, known[path], true)
	}
	s.store.SetRepos(out)
	logging.LogDuration(ctx, slog.LevelDebug, "repo slow pass", start, "repos", len(out))
	if s.OnTick != nil {
		s.OnTick(start)
	}
}

// scanRepo collects one repo's status. Transient git failures taint the
// record (timed-out flag or last-error text) and keep the previous counts;
// the deep pass additionally refreshes upstream tracking.
func (s *Scanner) scanRepo(ctx context.Context, path string, prev livestore.RepoStatus, deep bool) livestore.RepoStatus {
	now := time.Now()
	st := livestore.RepoStatus{
		Path:      path,
		ID:        livestore.RepoID(path),
		Name:      filepath.Base(path),
		Branch:    prev.Branch,
		Staged:    prev.Staged,
		Unstaged:  prev.Unstaged,
		Untracked: prev.Untracked,
		Flags:     prev.Flags,
		Upstream:  prev.Upstream,
		ScannedAt: now,
		ChangedAt: prev.ChangedAt,
	}

	branch, err := s.git(ctx, path, statusTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return taint(st, err)
	}
	st.Branch = branch

	porcelain, err := s.git(ctx, path, statusTimeout, "status", "--porcelain")
	if err != nil {
		return taint(st, err)
	}
	staged, unstaged, untracked, conflicted := parsePorcelain(porcelain)
	st.Staged, st.Unstaged, st.Untracked = staged, unstaged, untracked

	st.Flags = detectSpecials(resolveGitDir(path))
	st.Flags.Conflict = conflicted

	if deep {
		s.refreshUpstream(ctx, path, &st)
	}

	if statusChanged(prev, st) {
		st.ChangedAt = now
	}
	return st
}

// refreshUpstream resolves the tracking ref and ahead/behind counts. A
// missing upstream is normal and clears the field; fetch failures are
// logged and otherwise ignored.
func (s *Scanner) refreshUpstream(ctx context.Context, path string, st *livestore.RepoStatus) {
	tracking, err := s.git(ctx, path, statusTimeout, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	if err != nil {
		st.Upstream = nil
		return
	}

	if s.cfg.Fetch == "auto" && s.fetchLimiter.Allow() {
		if _, err := s.git(ctx, path, fetchTimeout, "fetch", "--quiet"); err != nil {
			logging.Debug(ctx, "fetch failed", "path", path, "error", err)
		}
	}

	counts, err := s.git(ctx, path, statusTimeout, "rev-list", "--left-right", "--count", "HEAD...@{upstream}")
	if err != nil {
		st.Upstream = &livestore.UpstreamInfo{Tracking: tracking}
		return
	}
	ahead, behind, ok := parseAheadBehind(counts)
	if !ok {
		st.Upstream = &livestore.UpstreamInfo{Tracking: tracking}
		return
	}
	st.Upstream = &livestore.UpstreamInfo{Tracking: tracking, Ahead: ahead, Behind: behind}
}

func taint(st livestore.RepoStatus, err error) livestore.RepoStatus {
	if errors.Is(err, errGitTimeout) {
		st.TimedOut = true
	} else {
		st.LastError = err.Error()
	}
	return st
}

func statusChanged(prev, curr livestore.RepoStatus) bool {
	return prev.Branch != curr.Branch ||
		prev.Staged != curr.Staged ||
		prev.Unstaged != curr.Unstaged ||
		prev.Untracked != curr.Untracked ||
		prev.Flags != curr.Flags
}
