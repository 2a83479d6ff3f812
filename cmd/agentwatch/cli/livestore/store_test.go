package livestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAgents_NotifiesWithSnapshot(t *testing.T) {
	t.Parallel()

	store := New()
	var snapshots []map[int32]AgentProcess
	store.OnAgentsChange(func(agents map[int32]AgentProcess) {
		snapshots = append(snapshots, agents)
	})

	store.SetAgents(map[int32]AgentProcess{
		101: {PID: 101, Label: "claude", Command: "claude --resume"},
	})

	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 1)
	assert.Equal(t, "claude", snapshots[0][101].Label)

	// Earlier snapshots must be isolated from later mutations.
	store.SetAgents(map[int32]AgentProcess{})
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[0], 1)
	assert.Empty(t, snapshots[1])
}

func TestSetAgents_MultipleSubscribers(t *testing.T) {
	t.Parallel()

	store := New()
	calls := 0
	store.OnAgentsChange(func(map[int32]AgentProcess) { calls++ })
	store.OnAgentsChange(func(map[int32]AgentProcess) { calls++ })

	store.SetAgents(map[int32]AgentProcess{7: {PID: 7}})
	assert.Equal(t, 2, calls)
}

func TestReads_ReturnCopies(t *testing.T) {
	t.Parallel()

	store := New()
	store.SetRepos(map[string]RepoStatus{
		"/home/dev/proj": {Path: "/home/dev/proj", Branch: "main"},
	})

	first := store.Repos()
	first["/home/dev/proj"] = RepoStatus{Path: "/home/dev/proj", Branch: "mutated"}

	second := store.Repos()
	assert.Equal(t, "main", second["/home/dev/proj"].Branch)
}

func TestWrapperOverlay_MergedOnlyWhileLive(t *testing.T) {
	t.Parallel()

	store := New()
	store.SetAgents(map[int32]AgentProcess{
		42: {PID: 42, Label: "claude"},
	})
	store.SetWrapper(WrapperState{PID: 42, Agent: "claude", Status: StateWorking})
	store.SetWrapper(WrapperState{PID: 99, Agent: "codex", Status: StateWaiting})

	agents := store.Agents()
	require.Len(t, agents, 1)
	require.NotNil(t, agents[42].Wrapper)
	assert.Equal(t, StateWorking, agents[42].Wrapper.Status)

	// The overlay for the departed PID is enumerable, not merged.
	orphans := store.OrphanWrappers()
	require.Len(t, orphans, 1)
	assert.Equal(t, int32(99), orphans[0].PID)

	store.RemoveWrapper(99)
	assert.Empty(t, store.OrphanWrappers())
}

func TestSetWrapper_HeartbeatKeepsStartAndOutputStamps(t *testing.T) {
	t.Parallel()

	store := New()
	store.SetAgents(map[int32]AgentProcess{42: {PID: 42, Label: "claude"}})

	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store.SetWrapper(WrapperState{
		PID: 42, Agent: "claude", Status: StateWorking,
		StartedAt: t0, LastOutputAt: t0,
	})

	// A WAITING heartbeat must not move either stamp.
	t1 := t0.Add(10 * time.Second)
	store.SetWrapper(WrapperState{
		PID: 42, Agent: "claude", Status: StateWaiting,
		StartedAt: t1, LastOutputAt: t1,
	})
	w := store.Agents()[42].Wrapper
	require.NotNil(t, w)
	assert.Equal(t, StateWaiting, w.Status)
	assert.Equal(t, t0, w.StartedAt)
	assert.Equal(t, t0, w.LastOutputAt)

	// A WORKING heartbeat advances the output stamp but not the start.
	t2 := t0.Add(20 * time.Second)
	store.SetWrapper(WrapperState{
		PID: 42, Agent: "claude", Status: StateWorking,
		StartedAt: t2, LastOutputAt: t2,
	})
	w = store.Agents()[42].Wrapper
	require.NotNil(t, w)
	assert.Equal(t, t0, w.StartedAt)
	assert.Equal(t, t2, w.LastOutputAt)
}

func TestAgent_ByPID(t *testing.T) {
	t.Parallel()

	store := New()
	store.SetAgents(map[int32]AgentProcess{5: {PID: 5, Label: "gemini"}})

	agent, ok := store.Agent(5)
	require.True(t, ok)
	assert.Equal(t, "gemini", agent.Label)

	_, ok = store.Agent(6)
	assert.False(t, ok)
}

func TestRepoStatus_Dirty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		repo RepoStatus
		want bool
	}{
		{"clean", RepoStatus{}, false},
		{"staged_only", RepoStatus{Staged: 1}, true},
		{"untracked_only", RepoStatus{Untracked: 3}, true},
		{"flag_only", RepoStatus{Flags: RepoFlags{Rebase: true}}, true},
		{"conflict_flag", RepoStatus{Flags: RepoFlags{Conflict: true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.repo.Dirty())
		})
	}
}

func TestAgentID_Stable(t *testing.T) {
	t.Parallel()

	a := AgentID("claude", "/usr/local/bin/claude")
	b := AgentID("claude", "/usr/local/bin/claude")
	c := AgentID("codex", "/usr/local/bin/claude")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEmpty(t, a)
}

func TestSetPorts_SnapshotTimestampPreserved(t *testing.T) {
	t.Parallel()

	store := New()
	seen := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	store.SetPorts(map[int]ListeningPort{
		3000: {Port: 3000, PID: 77, Process: "node", FirstSeen: seen},
	})

	ports := store.Ports()
	require.Len(t, ports, 1)
	assert.Equal(t, seen, ports[3000].FirstSeen)
}
