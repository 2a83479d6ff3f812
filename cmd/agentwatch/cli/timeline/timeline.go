// Package timeline keeps the audit history: a real-time event log under
// the data directory plus on-demand reconstruction of historical events
// from every other log source.
package timeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

// Event categories.
const (
	CategorySession      = "session"
	CategoryCommit       = "commit"
	CategoryEnrichment   = "enrichment"
	CategoryAnnotation   = "annotation"
	CategoryMetadata     = "metadata"
	CategoryProcess      = "process"
	CategoryContribution = "contribution"
	CategoryConfig       = "config"
	CategoryWrapper      = "wrapper"
)

// Event actions.
const (
	ActionStarted  = "started"
	ActionEnded    = "ended"
	ActionRecorded = "recorded"
	ActionComputed = "computed"
	ActionUpdated  = "updated"
	ActionModified = "modified"
	ActionExported = "exported"
)

// Event sources.
const (
	SourceLogged   = "logged"
	SourceInferred = "inferred"
)

// Event is one audit entry. Logged events are persisted without Source;
// it is stamped when the timeline is served.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entityId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// dedupKey collapses a logged event and its inferred reconstruction:
// second-precision timestamp plus identity. Logged wins on collision.
func dedupKey(ev Event) string {
	return ev.Timestamp.Format("2006-01-02T15:04:05") + ":" + ev.Category + ":" + ev.Action + ":" + ev.EntityID
}

// Log owns events.jsonl and reconstructs the complete timeline on demand.
type Log struct {
	dataDir string

	enrichments *enrich.Store
	annotations *enrich.AnnotationStore
	agentMeta   *enrich.MetadataStore
	convMeta    *enrich.MetadataStore
	managed     *wrapper.Registry

	mu       sync.Mutex
	migrated bool
}

func New(dataDir string) *Log {
	return &Log{
		dataDir:     dataDir,
		enrichments: enrich.NewStore(dataDir),
		annotations: enrich.NewAnnotationStore(dataDir),
		agentMeta:   enrich.NewAgentMetadataStore(dataDir),
		convMeta:    enrich.NewConversationMetadataStore(dataDir),
		managed:     wrapper.NewRegistry(dataDir),
	}
}

func (l *Log) eventsPath() string {
	return filepath.Join(l.dataDir, paths.EventsLogFileName)
}

// migrateLocked renames the legacy audit log into place, once, before the
// first read or write. A rename preserves history without a copy.
func (l *Log) migrateLocked() {
	if l.migrated {
		return
	}
	l.migrated = true
	if _, err := os.Stat(l.eventsPath()); err == nil {
		return
	}
	legacy := filepath.Join(l.dataDir, paths.LegacyAuditLogFileName)
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	if err := os.Rename(legacy, l.eventsPath()); err != nil {
		logging.Warn(context.Background(), "failed to migrate legacy audit log", "error", err)
	}
}

// Record appends one audit event. Best effort: the caller's operation
// already happened, so failures are logged, never returned.
func (l *Log) Record(ctx context.Context, category, action, entityID string, details map[string]any) {
	ev := Event{
		Timestamp: time.Now(),
		Category:  category,
		Action:    action,
		EntityID:  entityID,
		Details:   details,
	}

	l.mu.Lock()
	l.migrateLocked()
	err := recordlog.Append(l.eventsPath(), ev)
	l.mu.Unlock()

	if err != nil {
		logging.Warn(ctx, "failed to append audit event",
			"category", category, "action", action, "error", err)
	}
}

// Query filters CompleteTimeline. Zero Since/Until mean unbounded; a zero
// Limit falls back to the default page size.
type Query struct {
	Limit           int
	Offset          int
	Category        string
	Since           time.Time
	Until           time.Time
	IncludeInferred bool
}

const defaultLimit = 100

// SourceCounts says how many served events came from each mode.
type SourceCounts struct {
	Logged   int `json:"logged"`
	Inferred int `json:"inferred"`
}

// Result is one timeline page plus aggregate counts over the whole
// filtered set.
type Result struct {
	Events     []Event        `json:"events"`
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"byCategory"`
	ByAction   map[string]int `json:"byAction"`
	Sources    SourceCounts   `json:"sources"`
}

// CompleteTimeline merges logged and (optionally) inferred events,
// deduplicates, sorts newest-first and paginates. Counts cover the
// filtered set before pagination.
func (l *Log) CompleteTimeline(ctx context.Context, q Query) (*Result, error) {
	l.mu.Lock()
	l.migrateLocked()
	l.mu.Unlock()

	logged, err := recordlog.ReadAll[Event](l.eventsPath())
	if err != nil {
		return nil, err
	}

	merged := make(map[string]Event, len(logged))
	for _, ev := range logged {
		ev.Source = SourceLogged
		merged[dedupKey(ev)] = ev
	}
	if q.IncludeInferred {
		for _, ev := range l.inferredEvents(ctx) {
			ev.Source = SourceInferred
			key := dedupKey(ev)
			if _, taken := merged[key]; !taken {
				merged[key] = ev
			}
		}
	}

	result := &Result{
		ByCategory: make(map[string]int),
		ByAction:   make(map[string]int),
	}
	events := make([]Event, 0, len(merged))
	for _, ev := range merged {
		if !l.matches(ev, q) {
			continue
		}
		events = append(events, ev)
		result.ByCategory[ev.Category]++
		result.ByAction[ev.Action]++
		if ev.Source == SourceLogged {
			result.Sources.Logged++
		} else {
			result.Sources.Inferred++
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return dedupKey(events[i]) < dedupKey(events[j])
	})

	result.Total = len(events)

	offset := q.Offset
	if offset > len(events) {
		offset = len(events)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	result.Events = events[offset:end]
	return result, nil
}

func (l *Log) matches(ev Event, q Query) bool {
	if q.Category != "" && ev.Category != q.Category {
		return false
	}
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ev.Timestamp.After(q.Until) {
		return false
	}
	return true
}
