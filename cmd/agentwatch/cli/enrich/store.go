package enrich

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

const storeVersion = 1

type storeFile struct {
	Version     int                   `json:"version"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	Enrichments map[string]Enrichment `json:"enrichments"`
}

func (f *storeFile) Touch(now time.Time) { f.UpdatedAt = now }

func newStoreFile() *storeFile {
	return &storeFile{Version: storeVersion, Enrichments: make(map[string]Enrichment)}
}

// Store persists computed enrichments keyed by canonical session ref.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore builds a store writing under dataDir.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, paths.EnrichmentsDirName, paths.EnrichmentStoreFileName)}
}

// Put writes or replaces the enrichment under its ref.
func (s *Store) Put(e Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newStoreFile())
	if err != nil {
		return err
	}
	if f.Enrichments == nil {
		f.Enrichments = make(map[string]Enrichment)
	}
	f.Enrichments[e.Ref] = e
	return jsonstore.Save(s.path, f)
}

// Get looks up the enrichment for a canonical ref.
func (s *Store) Get(ref string) (Enrichment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newStoreFile())
	if err != nil {
		return Enrichment{}, false, err
	}
	e, ok := f.Enrichments[ref]
	return e, ok, nil
}

// List returns all enrichments, newest computed first.
func (s *Store) List() ([]Enrichment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newStoreFile())
	if err != nil {
		return nil, err
	}
	out := make([]Enrichment, 0, len(f.Enrichments))
	for _, e := range f.Enrichments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ComputedAt.After(out[j].ComputedAt)
	})
	return out, nil
}
