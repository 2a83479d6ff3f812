package transcript

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
)

const indexVersion = 1

// Entry is one indexed transcript.
type Entry struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	Project    string        `json:"project"`
	Model      string        `json:"model,omitempty"`
	APICalls   int           `json:"apiCalls"`
	Usage      pricing.Usage `json:"usage"`
	CostUSD    float64       `json:"estimatedCostUsd"`
	SizeBytes  int64         `json:"sizeBytes"`
	ModifiedAt time.Time     `json:"modifiedAt"`
	FirstAt    time.Time     `json:"firstAt,omitempty"`
	LastAt     time.Time     `json:"lastAt,omitempty"`
}

type indexFile struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Entries   map[string]Entry `json:"entries"`
}

func (f *indexFile) Touch(now time.Time) { f.UpdatedAt = now }

func newIndexFile() *indexFile {
	return &indexFile{Version: indexVersion, Entries: make(map[string]Entry)}
}

// Indexer maintains transcripts/index.json under the data directory.
type Indexer struct {
	indexPath string
	table     *pricing.Table

	mu sync.Mutex
}

// NewIndexer builds an indexer writing under dataDir.
func NewIndexer(dataDir string, table *pricing.Table) *Indexer {
	return &Indexer{
		indexPath: filepath.Join(dataDir, paths.TranscriptsDirName, paths.TranscriptIndexFileName),
		table:     table,
	}
}

// Refresh walks the Claude projects tree and re-analyses transcripts whose
// size or mtime moved since the last pass. Vanished transcripts drop out
// of the index. Returns the number of transcripts (re)analysed.
func (ix *Indexer) Refresh(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	root, err := paths.ClaudeProjectsDir()
	if err != nil {
		return 0, err
	}

	index, err := jsonstore.Load(ix.indexPath, newIndexFile())
	if err != nil {
		logging.Warn(ctx, "transcript index unreadable, rebuilding", "error", err)
		index = newIndexFile()
	}
	if index.Entries == nil {
		index.Entries = make(map[string]Entry)
	}

	found := make(map[string]struct{})
	analysed := 0

	projects, err := os.ReadDir(root)
	if err != nil {
		// No Claude installation is not an error; the index just empties.
		if !os.IsNotExist(err) {
			return 0, err
		}
	}
	for _, project := range projects {
		if ctx.Err() != nil {
			return analysed, ctx.Err()
		}
		if !project.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, project.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
				continue
			}
			id := strings.TrimSuffix(file.Name(), ".jsonl")
			found[id] = struct{}{}

			info, err := file.Info()
			if err != nil {
				continue
			}
			existing, ok := index.Entries[id]
			if ok && existing.SizeBytes == info.Size() && existing.ModifiedAt.Equal(info.ModTime()) {
				continue
			}

			path := filepath.Join(projectDir, file.Name())
			entry, err := analyze(path, id, project.Name(), ix.table)
			if err != nil {
				logging.Debug(ctx, "transcript analysis failed", "path", path, "error", err)
				continue
			}
			entry.SizeBytes = info.Size()
			entry.ModifiedAt = info.ModTime()
			index.Entries[id] = entry
			analysed++
		}
	}

	removed := 0
	for id := range index.Entries {
		if _, ok := found[id]; !ok {
			delete(index.Entries, id)
			removed++
		}
	}

	if analysed > 0 || removed > 0 {
		if err := jsonstore.Save(ix.indexPath, index); err != nil {
			return analysed, err
		}
	}
	return analysed, nil
}

// Entries loads the index and returns entries newest-first by file
// modification time.
func (ix *Indexer) Entries() ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	index, err := jsonstore.Load(ix.indexPath, newIndexFile())
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(index.Entries))
	for _, entry := range index.Entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
	})
	return entries, nil
}

// Entry returns one indexed transcript by id.
func (ix *Indexer) Entry(id string) (Entry, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	index, err := jsonstore.Load(ix.indexPath, newIndexFile())
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := index.Entries[id]
	return entry, ok, nil
}

// analyze parses one transcript into an index entry.
func analyze(path, id, project string, table *pricing.Table) (Entry, error) {
	lines, err := ParseFile(path)
	if err != nil {
		return Entry{}, err
	}
	usage, calls, model := TokenUsage(lines)
	first, last := Timespan(lines)
	return Entry{
		ID:       id,
		Path:     path,
		Project:  project,
		Model:    model,
		APICalls: calls,
		Usage:    usage,
		CostUSD:  table.Cost(model, usage),
		FirstAt:  first,
		LastAt:   last,
	}, nil
}
