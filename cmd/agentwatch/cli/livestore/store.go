// Package livestore holds the in-memory snapshot of everything the
// scanners currently observe: agent processes, repositories, and listening
// ports, plus wrapper overlays for daemon-launched processes.
//
// The store is the sole mutable holder of this state. Setters replace the
// whole map for their kind and fan the new snapshot out to subscribers;
// every read returns a copy. Callbacks are always invoked after the lock is
// released, with a snapshot the receiver may keep.
package livestore

import "sync"

type (
	// AgentsFunc receives the full agent snapshot after every change.
	AgentsFunc func(map[int32]AgentProcess)
	// ReposFunc receives the full repo snapshot after every change.
	ReposFunc func(map[string]RepoStatus)
	// PortsFunc receives the full port snapshot after every change.
	PortsFunc func(map[int]ListeningPort)
)

// Store is the shared live snapshot. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	agents   map[int32]AgentProcess
	repos    map[string]RepoStatus
	ports    map[int]ListeningPort
	wrappers map[int32]WrapperState

	agentSubs []AgentsFunc
	repoSubs  []ReposFunc
	portSubs  []PortsFunc
}

// New returns an empty store.
func New() *Store {
	return &Store{
		agents:   make(map[int32]AgentProcess),
		repos:    make(map[string]RepoStatus),
		ports:    make(map[int]ListeningPort),
		wrappers: make(map[int32]WrapperState),
	}
}

// OnAgentsChange registers a subscriber for agent snapshots.
func (s *Store) OnAgentsChange(fn AgentsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSubs = append(s.agentSubs, fn)
}

// OnReposChange registers a subscriber for repo snapshots.
func (s *Store) OnReposChange(fn ReposFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoSubs = append(s.repoSubs, fn)
}

// OnPortsChange registers a subscriber for port snapshots.
func (s *Store) OnPortsChange(fn PortsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portSubs = append(s.portSubs, fn)
}

// SetAgents atomically replaces the agent map and notifies subscribers with
// the merged snapshot (wrapper overlays attached).
func (s *Store) SetAgents(agents map[int32]AgentProcess) {
	s.mu.Lock()
	s.agents = make(map[int32]AgentProcess, len(agents))
	for pid, agent := range agents {
		s.agents[pid] = agent
	}
	snapshot := s.agentSnapshotLocked()
	subs := append([]AgentsFunc(nil), s.agentSubs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// SetRepos atomically replaces the repo map and notifies subscribers.
func (s *Store) SetRepos(repos map[string]RepoStatus) {
	s.mu.Lock()
	s.repos = make(map[string]RepoStatus, len(repos))
	for path, repo := range repos {
		s.repos[path] = repo
	}
	snapshot := copyRepos(s.repos)
	subs := append([]ReposFunc(nil), s.repoSubs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// SetPorts atomically replaces the port map and notifies subscribers.
func (s *Store) SetPorts(ports map[int]ListeningPort) {
	s.mu.Lock()
	s.ports = make(map[int]ListeningPort, len(ports))
	for port, listener := range ports {
		s.ports[port] = listener
	}
	snapshot := copyPorts(s.ports)
	subs := append([]PortsFunc(nil), s.portSubs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Agents returns a copy of the agent map with wrapper overlays merged in.
// An overlay is attached iff its PID is still present in the agent map.
func (s *Store) Agents() map[int32]AgentProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentSnapshotLocked()
}

// Agent returns one agent (overlay merged) by PID.
func (s *Store) Agent(pid int32) (AgentProcess, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[pid]
	if !ok {
		return AgentProcess{}, false
	}
	if wrapper, ok := s.wrappers[pid]; ok {
		w := wrapper
		agent.Wrapper = &w
	}
	return agent, true
}

// Repos returns a copy of the repo map.
func (s *Store) Repos() map[string]RepoStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRepos(s.repos)
}

// Ports returns a copy of the port map.
func (s *Store) Ports() map[int]ListeningPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPorts(s.ports)
}

// SetWrapper records or replaces the overlay for a daemon-launched process.
// Repeated calls for a known PID are status updates: the original start
// time survives, and the output stamp only advances while output flows.
func (s *Store) SetWrapper(w WrapperState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.wrappers[w.PID]; ok {
		w.StartedAt = prev.StartedAt
		if w.Status != StateWorking {
			w.LastOutputAt = prev.LastOutputAt
		}
	}
	s.wrappers[w.PID] = w
}

// RemoveWrapper evicts the overlay for pid. Safe to call for unknown PIDs.
func (s *Store) RemoveWrapper(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wrappers, pid)
}

// OrphanWrappers enumerates overlays whose PID has no entry in the agent
// map. Such overlays are invisible to readers; Agents only merges an
// overlay onto a live agent record.
func (s *Store) OrphanWrappers() []WrapperState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orphans []WrapperState
	for pid, wrapper := range s.wrappers {
		if _, live := s.agents[pid]; !live {
			orphans = append(orphans, wrapper)
		}
	}
	return orphans
}

// agentSnapshotLocked builds the merged agent copy. Caller holds the lock.
func (s *Store) agentSnapshotLocked() map[int32]AgentProcess {
	out := make(map[int32]AgentProcess, len(s.agents))
	for pid, agent := range s.agents {
		if wrapper, ok := s.wrappers[pid]; ok {
			w := wrapper
			agent.Wrapper = &w
		}
		out[pid] = agent
	}
	return out
}

func copyRepos(src map[string]RepoStatus) map[string]RepoStatus {
	out := make(map[string]RepoStatus, len(src))
	for path, repo := range src {
		out[path] = repo
	}
	return out
}

func copyPorts(src map[int]ListeningPort) map[int]ListeningPort {
	out := make(map[int]ListeningPort, len(src))
	for port, listener := range src {
		out[port] = listener
	}
	return out
}
