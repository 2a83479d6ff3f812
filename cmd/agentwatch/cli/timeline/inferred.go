package timeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/procscan"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
)

// inferredEvents walks every other log source and synthesises audit
// entries. Each source degrades independently: an unreadable log is
// skipped, never fatal, because reconstruction is best effort.
func (l *Log) inferredEvents(ctx context.Context) []Event {
	var out []Event
	out = append(out, l.sessionEvents(ctx)...)
	out = append(out, l.commitEvents(ctx)...)
	out = append(out, l.enrichmentEvents(ctx)...)
	out = append(out, l.annotationEvents(ctx)...)
	out = append(out, l.metadataEvents(ctx)...)
	out = append(out, l.processEvents(ctx)...)
	out = append(out, l.contributionEvents(ctx)...)
	out = append(out, l.configEvents()...)
	out = append(out, l.wrapperEvents(ctx)...)
	return out
}

// sessionEvents reduces the mutation log to one final record per session
// and emits its start and, when ended, its end.
func (l *Log) sessionEvents(ctx context.Context) []Event {
	pattern := filepath.Join(l.dataDir, paths.HooksDirName, paths.SessionsPattern)
	recs, err := recordlog.ReadRange[hookstore.Session](pattern, recordlog.RangeOptions{})
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped sessions", "error", err)
		return nil
	}

	final := make(map[string]hookstore.Session, len(recs))
	for _, rec := range recs {
		if rec.SessionID == "" {
			continue
		}
		prev, ok := final[rec.SessionID]
		if !ok || rec.LastActivity.After(prev.LastActivity) {
			final[rec.SessionID] = rec
		}
	}

	var out []Event
	for id, sess := range final {
		out = append(out, Event{
			Timestamp: sess.StartTime,
			Category:  CategorySession,
			Action:    ActionStarted,
			EntityID:  id,
			Details:   map[string]any{"cwd": sess.Cwd, "trigger": sess.Source},
		})
		if sess.EndTime != nil {
			out = append(out, Event{
				Timestamp: *sess.EndTime,
				Category:  CategorySession,
				Action:    ActionEnded,
				EntityID:  id,
			})
		}
	}
	return out
}

func (l *Log) commitEvents(ctx context.Context) []Event {
	pattern := filepath.Join(l.dataDir, paths.HooksDirName, paths.CommitsPattern)
	recs, err := recordlog.ReadRange[hookstore.Commit](pattern, recordlog.RangeOptions{})
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped commits", "error", err)
		return nil
	}

	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Event{
			Timestamp: rec.Timestamp,
			Category:  CategoryCommit,
			Action:    ActionRecorded,
			EntityID:  rec.CommitHash,
			Details:   map[string]any{"sessionId": rec.SessionID, "message": rec.Message},
		})
	}
	return out
}

func (l *Log) enrichmentEvents(ctx context.Context) []Event {
	enrichments, err := l.enrichments.List()
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped enrichments", "error", err)
		return nil
	}

	out := make([]Event, 0, len(enrichments))
	for _, e := range enrichments {
		out = append(out, Event{
			Timestamp: e.ComputedAt,
			Category:  CategoryEnrichment,
			Action:    ActionComputed,
			EntityID:  e.Ref,
			Details:   map[string]any{"score": e.Score, "classification": e.Classification},
		})
	}
	return out
}

func (l *Log) annotationEvents(ctx context.Context) []Event {
	annotations, err := l.annotations.All()
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped annotations", "error", err)
		return nil
	}

	var out []Event
	for ref, a := range annotations {
		if a.UpdatedAt.IsZero() {
			continue
		}
		out = append(out, Event{
			Timestamp: a.UpdatedAt,
			Category:  CategoryAnnotation,
			Action:    ActionUpdated,
			EntityID:  ref,
		})
	}
	return out
}

func (l *Log) metadataEvents(ctx context.Context) []Event {
	kinds := []struct {
		kind  string
		store *enrich.MetadataStore
	}{
		{"agent", l.agentMeta},
		{"conversation", l.convMeta},
	}

	var out []Event
	for _, k := range kinds {
		entities, err := k.store.All()
		if err != nil {
			logging.Debug(ctx, "inferred walk skipped metadata", "kind", k.kind, "error", err)
			continue
		}
		for id, meta := range entities {
			if meta.UpdatedAt.IsZero() {
				continue
			}
			out = append(out, Event{
				Timestamp: meta.UpdatedAt,
				Category:  CategoryMetadata,
				Action:    ActionUpdated,
				EntityID:  id,
				Details:   map[string]any{"kind": k.kind},
			})
		}
	}
	return out
}

func (l *Log) processEvents(ctx context.Context) []Event {
	pattern := filepath.Join(l.dataDir, paths.ProcessesDirName, paths.ProcessEventsPattern)
	recs, err := recordlog.ReadRange[procscan.ProcessEvent](pattern, recordlog.RangeOptions{})
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped process events", "error", err)
		return nil
	}

	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Event{
			Timestamp: rec.Timestamp,
			Category:  CategoryProcess,
			Action:    rec.Type,
			EntityID:  strconv.Itoa(int(rec.PID)),
			Details:   map[string]any{"label": rec.Label},
		})
	}
	return out
}

func (l *Log) contributionEvents(ctx context.Context) []Event {
	type contributorSettings struct {
		UpdatedAt time.Time `json:"updatedAt"`
	}

	path := filepath.Join(l.dataDir, paths.ContributorSettingsFileName)
	settings, err := jsonstore.Load(path, &contributorSettings{})
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped contributor settings", "error", err)
		return nil
	}
	if settings.UpdatedAt.IsZero() {
		return nil
	}
	return []Event{{
		Timestamp: settings.UpdatedAt,
		Category:  CategoryContribution,
		Action:    ActionUpdated,
		EntityID:  "contributor-settings",
	}}
}

func (l *Log) configEvents() []Event {
	info, err := os.Stat(filepath.Join(l.dataDir, paths.ConfigFileName))
	if err != nil {
		return nil
	}
	return []Event{{
		Timestamp: info.ModTime(),
		Category:  CategoryConfig,
		Action:    ActionModified,
		EntityID:  paths.ConfigFileName,
	}}
}

func (l *Log) wrapperEvents(ctx context.Context) []Event {
	sessions, err := l.managed.List()
	if err != nil {
		logging.Debug(ctx, "inferred walk skipped managed sessions", "error", err)
		return nil
	}

	var out []Event
	for _, sess := range sessions {
		out = append(out, Event{
			Timestamp: sess.StartedAt,
			Category:  CategoryWrapper,
			Action:    ActionStarted,
			EntityID:  sess.ID,
			Details:   map[string]any{"command": sess.Command},
		})
		if sess.EndedAt != nil {
			details := map[string]any{}
			if sess.ExitCode != nil {
				details["exitCode"] = *sess.ExitCode
			}
			out = append(out, Event{
				Timestamp: *sess.EndedAt,
				Category:  CategoryWrapper,
				Action:    ActionEnded,
				EntityID:  sess.ID,
				Details:   details,
			})
		}
	}
	return out
}
