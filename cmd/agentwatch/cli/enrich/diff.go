package enrich

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// diffTimeout bounds the snapshot; a huge patch must not hold up
// session-end processing.
const diffTimeout = 10 * time.Second

// maxFileChanges caps the per-file list at the heaviest movers.
const maxFileChanges = 50

// DiffTracker captures a repo's head at session start and diffs against
// it at session end. Start states live only in memory and are consumed
// by the snapshot that uses them.
type DiffTracker struct {
	mu     sync.Mutex
	starts map[string]string // session id -> HEAD at session start
}

func NewDiffTracker() *DiffTracker {
	return &DiffTracker{starts: make(map[string]string)}
}

// MarkStart records HEAD for the session. Best effort: a cwd outside any
// repo, or an unborn branch, just leaves no cached start.
func (d *DiffTracker) MarkStart(_ context.Context, sessionID, dir string) {
	if sessionID == "" || dir == "" {
		return
	}
	head, err := resolveHead(dir)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.starts[sessionID] = head
	d.mu.Unlock()
}

// Snapshot diffs the session's cached start HEAD against the current one.
// The cache entry is consumed; a repeat call sees no start state and
// reports only uncommitted changes. Secondary failures degrade to a
// partial snapshot rather than failing the whole stage.
func (d *DiffTracker) Snapshot(ctx context.Context, sessionID, dir string) (*DiffSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, diffTimeout)
	defer cancel()

	d.mu.Lock()
	start, ok := d.starts[sessionID]
	if ok {
		delete(d.starts, sessionID)
	}
	d.mu.Unlock()

	// Sessions report their cwd, which may sit below the repo root.
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repo at %s: %w", dir, err)
	}
	headRef, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD in %s: %w", dir, err)
	}
	end := headRef.Hash()

	snap := &DiffSnapshot{StartHead: start, EndHead: end.String()}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			snap.UncommittedFiles = dirtyCount(status)
		}
	}

	if start == "" || start == end.String() {
		return snap, nil
	}

	startHash := plumbing.NewHash(start)
	startCommit, err := repo.CommitObject(startHash)
	if err != nil {
		// The start commit can vanish under a rebase.
		return snap, nil
	}
	endCommit, err := repo.CommitObject(end)
	if err != nil {
		return snap, nil
	}

	snap.CommitCount = countNewCommits(endCommit, startHash)

	patch, err := startCommit.PatchContext(ctx, endCommit)
	if err != nil {
		return snap, nil
	}
	var files []FileChange
	for _, fs := range patch.Stats() {
		files = append(files, FileChange{Path: fs.Name, Insertions: fs.Addition, Deletions: fs.Deletion})
	}
	for _, f := range files {
		snap.Insertions += f.Insertions
		snap.Deletions += f.Deletions
	}
	snap.FilesChanged = topByChurn(files, maxFileChanges)
	return snap, nil
}

func resolveHead(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// countNewCommits walks back from end, pruned at start, giving the
// commits the session added. If start is no longer an ancestor the walk
// covers end's whole history, same as rev-list would report.
func countNewCommits(end *object.Commit, start plumbing.Hash) int {
	count := 0
	iter := object.NewCommitPreorderIter(end, nil, []plumbing.Hash{start})
	_ = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count
}

// dirtyCount counts worktree entries that differ from HEAD, untracked
// files included.
func dirtyCount(status git.Status) int {
	n := 0
	for _, s := range status {
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			n++
		}
	}
	return n
}

func topByChurn(files []FileChange, n int) []FileChange {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Insertions+files[i].Deletions > files[j].Insertions+files[j].Deletions
	})
	if len(files) > n {
		files = files[:n]
	}
	return files
}
