package timeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/procscan"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

func appendLogged(t *testing.T, dir string, ev Event) {
	t.Helper()
	require.NoError(t, recordlog.Append(filepath.Join(dir, paths.EventsLogFileName), ev))
}

func TestDedupKey_SecondPrecision(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 8, 20, 10, 0, 0, 0, time.Local)
	a := Event{Timestamp: base, Category: CategorySession, Action: ActionStarted, EntityID: "s1"}
	b := Event{Timestamp: base.Add(700 * time.Millisecond), Category: CategorySession, Action: ActionStarted, EntityID: "s1"}
	c := Event{Timestamp: base.Add(time.Second), Category: CategorySession, Action: ActionStarted, EntityID: "s1"}

	assert.Equal(t, dedupKey(a), dedupKey(b))
	assert.NotEqual(t, dedupKey(a), dedupKey(c))
}

func TestRecord_Appends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log := New(dir)

	log.Record(context.Background(), CategorySession, ActionStarted, "s1", map[string]any{"cwd": "/p"})
	log.Record(context.Background(), CategoryAnnotation, ActionUpdated, "corr:s1", nil)

	events, err := recordlog.ReadAll[Event](filepath.Join(dir, paths.EventsLogFileName))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, CategorySession, events[0].Category)
	assert.Equal(t, "s1", events[0].EntityID)
	assert.Equal(t, "/p", events[0].Details["cwd"])
}

func TestLegacyAuditLogMigratedOnFirstAccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacy := Event{Timestamp: time.Now().Add(-time.Hour), Category: CategoryConfig, Action: ActionModified, EntityID: "config.yaml"}
	require.NoError(t, recordlog.Append(filepath.Join(dir, paths.LegacyAuditLogFileName), legacy))

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, CategoryConfig, result.Events[0].Category)
	assert.Equal(t, SourceLogged, result.Events[0].Source)

	_, err = os.Stat(filepath.Join(dir, paths.EventsLogFileName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, paths.LegacyAuditLogFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestLegacyAuditLogNotMigratedOverExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	appendLogged(t, dir, Event{Timestamp: time.Now(), Category: CategorySession, Action: ActionStarted, EntityID: "s1"})
	require.NoError(t, recordlog.Append(filepath.Join(dir, paths.LegacyAuditLogFileName),
		Event{Timestamp: time.Now(), Category: CategorySession, Action: ActionStarted, EntityID: "old"}))

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "s1", result.Events[0].EntityID)

	_, err = os.Stat(filepath.Join(dir, paths.LegacyAuditLogFileName))
	assert.NoError(t, err)
}

func TestCompleteTimeline_NewestFirstAndPaginated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2025, 8, 20, 9, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		appendLogged(t, dir, Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Category:  CategorySession,
			Action:    ActionStarted,
			EntityID:  string(rune('a' + i)),
		})
	}

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{Limit: 2, Offset: 1})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "d", result.Events[0].EntityID)
	assert.Equal(t, "c", result.Events[1].EntityID)
	assert.Equal(t, 5, result.ByCategory[CategorySession])
	assert.Equal(t, 5, result.ByAction[ActionStarted])
	assert.Equal(t, 5, result.Sources.Logged)
}

func TestCompleteTimeline_CategoryAndWindowFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2025, 8, 20, 9, 0, 0, 0, time.Local)
	appendLogged(t, dir, Event{Timestamp: base, Category: CategorySession, Action: ActionStarted, EntityID: "s1"})
	appendLogged(t, dir, Event{Timestamp: base.Add(time.Hour), Category: CategoryAnnotation, Action: ActionUpdated, EntityID: "corr:s1"})
	appendLogged(t, dir, Event{Timestamp: base.Add(2 * time.Hour), Category: CategorySession, Action: ActionEnded, EntityID: "s1"})

	log := New(dir)

	byCategory, err := log.CompleteTimeline(context.Background(), Query{Category: CategorySession})
	require.NoError(t, err)
	assert.Equal(t, 2, byCategory.Total)

	windowed, err := log.CompleteTimeline(context.Background(), Query{
		Since: base.Add(30 * time.Minute),
		Until: base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, windowed.Events, 1)
	assert.Equal(t, CategoryAnnotation, windowed.Events[0].Category)
}

func TestCompleteTimeline_LoggedWinsOnDedup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	start := time.Date(2025, 8, 20, 10, 0, 0, 0, time.Local)
	appendLogged(t, dir, Event{Timestamp: start, Category: CategorySession, Action: ActionStarted, EntityID: "s1"})

	// The hook log replays the same start within the same wall second.
	sess := hookstore.Session{SessionID: "s1", Cwd: "/p", StartTime: start.Add(400 * time.Millisecond), LastActivity: start}
	pattern := filepath.Join(dir, paths.HooksDirName, paths.SessionsPattern)
	require.NoError(t, recordlog.AppendPartitionAt(pattern, sess, start))

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{IncludeInferred: true})
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, SourceLogged, result.Events[0].Source)
	assert.Equal(t, 1, result.Sources.Logged)
	assert.Equal(t, 0, result.Sources.Inferred)
}

func TestCompleteTimeline_InferredSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	hooks := filepath.Join(dir, paths.HooksDirName)

	ended := now.Add(-30 * time.Minute)
	sess := hookstore.Session{
		SessionID: "s1", Cwd: "/p",
		StartTime: now.Add(-time.Hour), LastActivity: ended, EndTime: &ended,
	}
	require.NoError(t, recordlog.AppendPartitionAt(filepath.Join(hooks, paths.SessionsPattern), sess, now))

	commit := hookstore.Commit{SessionID: "s1", CommitHash: "abc1234", Message: "fix race", Timestamp: now.Add(-45 * time.Minute)}
	require.NoError(t, recordlog.AppendPartitionAt(filepath.Join(hooks, paths.CommitsPattern), commit, now))

	require.NoError(t, enrich.NewStore(dir).Put(enrich.Enrichment{Ref: "corr:s1", ComputedAt: now.Add(-29 * time.Minute), Score: 85}))

	_, err := enrich.NewAnnotationStore(dir).Set("corr:s1", enrich.Annotation{Feedback: enrich.FeedbackPositive})
	require.NoError(t, err)

	_, err = enrich.NewAgentMetadataStore(dir).Set("claude", enrich.EntityMetadata{CustomName: "cc"})
	require.NoError(t, err)

	procEvent := procscan.ProcessEvent{Type: "started", PID: 42, Label: "claude", Timestamp: now.Add(-time.Hour)}
	require.NoError(t, recordlog.AppendPartitionAt(
		filepath.Join(dir, paths.ProcessesDirName, paths.ProcessEventsPattern), procEvent, now))

	require.NoError(t, os.WriteFile(filepath.Join(dir, paths.ConfigFileName), []byte("web:\n  port: 4040\n"), 0o600))

	_, err = wrapper.NewRegistry(dir).Start("run-1", "claude --continue", 42)
	require.NoError(t, err)

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{IncludeInferred: true, Limit: 100})
	require.NoError(t, err)

	assert.Zero(t, result.Sources.Logged)
	assert.Greater(t, result.Sources.Inferred, 0)
	assert.Equal(t, 2, result.ByCategory[CategorySession])
	assert.Equal(t, 1, result.ByCategory[CategoryCommit])
	assert.Equal(t, 1, result.ByCategory[CategoryEnrichment])
	assert.Equal(t, 1, result.ByCategory[CategoryAnnotation])
	assert.Equal(t, 1, result.ByCategory[CategoryMetadata])
	assert.Equal(t, 1, result.ByCategory[CategoryProcess])
	assert.Equal(t, 1, result.ByCategory[CategoryConfig])
	assert.Equal(t, 1, result.ByCategory[CategoryWrapper])

	for _, ev := range result.Events {
		assert.Equal(t, SourceInferred, ev.Source)
	}
	for i := 1; i < len(result.Events); i++ {
		assert.False(t, result.Events[i].Timestamp.After(result.Events[i-1].Timestamp))
	}
}

func TestCompleteTimeline_InferredExcludedByDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess := hookstore.Session{SessionID: "s1", StartTime: time.Now(), LastActivity: time.Now()}
	pattern := filepath.Join(dir, paths.HooksDirName, paths.SessionsPattern)
	require.NoError(t, recordlog.AppendPartitionAt(pattern, sess, time.Now()))

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Zero(t, result.Total)
}

func TestCompleteTimeline_SessionMutationsCollapse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	pattern := filepath.Join(dir, paths.HooksDirName, paths.SessionsPattern)

	start := now.Add(-time.Hour)
	first := hookstore.Session{SessionID: "s1", StartTime: start, LastActivity: start}
	require.NoError(t, recordlog.AppendPartitionAt(pattern, first, now))

	mutated := first
	mutated.ToolCount = 7
	mutated.LastActivity = now.Add(-10 * time.Minute)
	require.NoError(t, recordlog.AppendPartitionAt(pattern, mutated, now))

	log := New(dir)
	result, err := log.CompleteTimeline(context.Background(), Query{IncludeInferred: true})
	require.NoError(t, err)

	// One started event, and no ended event while the session is live.
	assert.Equal(t, 1, result.ByCategory[CategorySession])
	assert.Equal(t, 1, result.ByAction[ActionStarted])
	assert.Zero(t, result.ByAction[ActionEnded])
}
