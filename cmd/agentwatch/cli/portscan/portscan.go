// Package portscan enumerates listening TCP sockets and attributes them
// to running agents, directly by owning PID or through the parent PID
// when a dev server or tool child holds the socket.
package portscan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// portKey identifies a socket across ticks for first-seen tracking.
type portKey struct {
	port int
	pid  int32
}

// Scanner polls listening sockets on a fixed interval and publishes the
// correlated port map to the live store.
type Scanner struct {
	cfg   config.PortsConfig
	store *livestore.Store

	// OnTick, when set before Start, observes each completed pass.
	OnTick func(start time.Time)

	// enumerate and parent are swapped out by tests.
	enumerate func(ctx context.Context) ([]listener, error)
	parent    func(ctx context.Context, pid int32) (int32, error)

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	paused    bool
	firstSeen map[portKey]time.Time
}

// New builds a scanner over the live store's agent map.
func New(cfg config.PortsConfig, store *livestore.Store) *Scanner {
	s := &Scanner{
		cfg:       cfg,
		store:     store,
		firstSeen: make(map[portKey]time.Time),
	}
	s.enumerate = enumerateOS
	s.parent = parentPID
	return s
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

// SetPaused suppresses ticks without clearing the first-seen cache.
func (s *Scanner) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval())
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

// Tick runs one scan pass. Enumeration failure (lsof missing, permission
// denied) degrades to an empty port map rather than stale data.
func (s *Scanner) Tick(ctx context.Context) {
	start := time.Now()

	listeners, err := s.enumerate(ctx)
	if err != nil {
		logging.Debug(ctx, "port enumeration failed", "error", err)
		listeners = nil
	}

	now := time.Now()
	agents := s.store.Agents()

	ports := make(map[int]livestore.ListeningPort, len(listeners))
	keyByPort := make(map[int]portKey, len(listeners))
	seen := make(map[portKey]struct{}, len(listeners))

	for _, l := range listeners {
		if l.Port < s.cfg.MinPort || l.Port > s.cfg.MaxPort {
			continue
		}
		seen[portKey{port: l.Port, pid: l.PID}] = struct{}{}

		// One entry per port; an IPv4 and IPv6 pair collapses to the
		// first row.
		if _, dup := ports[l.Port]; dup {
			continue
		}

		entry := livestore.ListeningPort{
			Port:     l.Port,
			PID:      l.PID,
			Process:  l.Command,
			Address:  l.Address,
			Protocol: l.Protocol,
		}
		if agent, ok := agents[l.PID]; ok {
			entry.AgentPID = agent.PID
			entry.AgentLabel = agent.Label
			entry.Command = agent.Command
			entry.Cwd = agent.Cwd
		} else if len(agents) > 0 {
			if parent, perr := s.parent(ctx, l.PID); perr == nil {
				if agent, ok := agents[parent]; ok {
					entry.AgentPID = agent.PID
					entry.AgentLabel = agent.Label
					entry.Cwd = agent.Cwd
				}
			}
		}

		ports[l.Port] = entry
		keyByPort[l.Port] = portKey{port: l.Port, pid: l.PID}
	}

	s.mu.Lock()
	for port, key := range keyByPort {
		first, ok := s.firstSeen[key]
		if !ok {
			first = now
			s.firstSeen[key] = first
		}
		entry := ports[port]
		entry.FirstSeen = first
		ports[port] = entry
	}
	for key := range s.firstSeen {
		if _, ok := seen[key]; !ok {
			delete(s.firstSeen, key)
		}
	}
	s.mu.Unlock()

	s.store.SetPorts(ports)
	logging.LogDuration(ctx, slog.LevelDebug, "port scan", start, "ports", len(ports))
	if s.OnTick != nil {
		s.OnTick(start)
	}
}

// parentPID resolves a process's parent PID.
func parentPID(ctx context.Context, pid int32) (int32, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, err
	}
	return p.PpidWithContext(ctx)
}
