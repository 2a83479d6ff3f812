// Package wrapper launches agent processes under AgentWatch supervision
// and keeps a persistent registry of those managed sessions.
package wrapper

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

const registryVersion = 1

// ManagedSession is one agent process launched through the wrapper.
type ManagedSession struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	PID       int32      `json:"pid,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
}

// Running reports whether the managed process has not exited.
func (m *ManagedSession) Running() bool {
	return m.EndedAt == nil
}

type registryFile struct {
	Version   int                       `json:"version"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Sessions  map[string]ManagedSession `json:"sessions"`
}

func (f *registryFile) Touch(now time.Time) { f.UpdatedAt = now }

func newRegistryFile() *registryFile {
	return &registryFile{Version: registryVersion, Sessions: make(map[string]ManagedSession)}
}

// Registry persists managed sessions in one JSON file at the data dir
// root so they survive daemon restarts.
type Registry struct {
	path string
	mu   sync.Mutex
}

func NewRegistry(dataDir string) *Registry {
	return &Registry{path: filepath.Join(dataDir, paths.ManagedSessionsFileName)}
}

// Start records a freshly launched process under id.
func (r *Registry) Start(id, command string, pid int32) (ManagedSession, error) {
	if id == "" {
		return ManagedSession{}, fmt.Errorf("managed session id is empty")
	}
	sess := ManagedSession{ID: id, Command: command, PID: pid, StartedAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := jsonstore.Load(r.path, newRegistryFile())
	if err != nil {
		return ManagedSession{}, err
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]ManagedSession)
	}
	f.Sessions[id] = sess
	if err := jsonstore.Save(r.path, f); err != nil {
		return ManagedSession{}, err
	}
	return sess, nil
}

// End stamps the session's exit. Unknown ids are a no-op so a crashed
// wrapper replay never fails.
func (r *Registry) End(id string, exitCode int) (ManagedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := jsonstore.Load(r.path, newRegistryFile())
	if err != nil {
		return ManagedSession{}, err
	}
	sess, ok := f.Sessions[id]
	if !ok {
		return ManagedSession{}, nil
	}
	now := time.Now()
	sess.EndedAt = &now
	sess.ExitCode = &exitCode
	f.Sessions[id] = sess
	if err := jsonstore.Save(r.path, f); err != nil {
		return ManagedSession{}, err
	}
	return sess, nil
}

// Remove drops the session record entirely.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := jsonstore.Load(r.path, newRegistryFile())
	if err != nil {
		return err
	}
	if _, ok := f.Sessions[id]; !ok {
		return nil
	}
	delete(f.Sessions, id)
	return jsonstore.Save(r.path, f)
}

// Get looks up one managed session.
func (r *Registry) Get(id string) (ManagedSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := jsonstore.Load(r.path, newRegistryFile())
	if err != nil {
		return ManagedSession{}, false, err
	}
	sess, ok := f.Sessions[id]
	return sess, ok, nil
}

// List returns all managed sessions, newest start first.
func (r *Registry) List() ([]ManagedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := jsonstore.Load(r.path, newRegistryFile())
	if err != nil {
		return nil, err
	}
	out := make([]ManagedSession, 0, len(f.Sessions))
	for _, sess := range f.Sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
