package enrich

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

var errEmptyRef = errors.New("no session reference to key enrichment")

// Pipeline computes the post-session artifact for a finished session and
// writes it to the store. Stage failures never fail the whole run; the
// diff stage in particular degrades to nil for non-repo cwds.
type Pipeline struct {
	store *Store
	diff  *DiffTracker

	mu   sync.Mutex
	subs []func(Enrichment)
}

func NewPipeline(store *Store, diff *DiffTracker) *Pipeline {
	return &Pipeline{store: store, diff: diff}
}

// OnComputed registers a callback invoked after each stored enrichment.
// Callbacks run outside the pipeline lock.
func (p *Pipeline) OnComputed(fn func(Enrichment)) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// MarkSessionStart caches the repo head for the session's eventual diff
// snapshot. Safe for non-repo cwds; the tracker records nothing then.
func (p *Pipeline) MarkSessionStart(ctx context.Context, sessionID, dir string) {
	if dir == "" {
		return
	}
	p.diff.MarkStart(ctx, sessionID, dir)
}

// Enrich runs all stages for a session and persists the result under the
// canonical ref. correlationID and transcriptID may be empty; the session
// id anchors the ref then.
func (p *Pipeline) Enrich(ctx context.Context, sess *hookstore.Session, usages []hookstore.ToolUsage, correlationID, transcriptID string) (*Enrichment, error) {
	ref := CanonicalRef(correlationID, sess.SessionID, transcriptID)
	if ref == "" {
		return nil, errEmptyRef
	}
	ctx = logging.WithSession(ctx, sess.SessionID)

	outcome := ComputeOutcome(usages)
	edited := editedPaths(usages)
	loops := DetectLoops(usages)

	var diff *DiffSnapshot
	if sess.Cwd != "" {
		snap, err := p.diff.Snapshot(ctx, sess.SessionID, sess.Cwd)
		if err != nil {
			logging.Debug(ctx, "diff snapshot unavailable", "cwd", sess.Cwd, "error", err)
		} else {
			diff = snap
		}
	}

	commits := len(sess.Commits)
	if diff != nil && diff.CommitCount > commits {
		commits = diff.CommitCount
	}
	score := Score(outcome, loops, diff, commits)

	e := Enrichment{
		Ref:            ref,
		SessionID:      sess.SessionID,
		Source:         SourceHook,
		ComputedAt:     time.Now(),
		TaskType:       inferTaskType(edited, outcome),
		LanguageTags:   languageTags(edited),
		Outcome:        outcome,
		Loops:          loops,
		Diff:           diff,
		Score:          score,
		Classification: Classify(score),
	}
	if transcriptID != "" && sess.SessionID == "" {
		e.Source = SourceTranscript
	}

	if err := p.store.Put(e); err != nil {
		return nil, err
	}

	p.mu.Lock()
	subs := slices.Clone(p.subs)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
	logging.Info(ctx, "enrichment computed",
		"ref", ref, "taskType", e.TaskType, "score", e.Score, "class", e.Classification)
	return &e, nil
}
