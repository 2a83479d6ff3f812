package enrich

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

const metadataVersion = 1

// EntityMetadata holds the user-editable naming for one agent or
// conversation: display name, aliases, free-form notes and a colour.
type EntityMetadata struct {
	CustomName string    `json:"customName,omitempty"`
	Aliases    []string  `json:"aliases,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Color      string    `json:"color,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type metadataFile struct {
	Version   int                       `json:"version"`
	UpdatedAt time.Time                 `json:"updatedAt"`
	Entities  map[string]EntityMetadata `json:"entities"`
}

func (f *metadataFile) Touch(now time.Time) { f.UpdatedAt = now }

func newMetadataFile() *metadataFile {
	return &metadataFile{Version: metadataVersion, Entities: make(map[string]EntityMetadata)}
}

// MetadataStore persists per-entity metadata in one JSON file. Two
// instances cover agents and conversations.
type MetadataStore struct {
	path string
	mu   sync.Mutex
}

func NewAgentMetadataStore(dataDir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(dataDir, paths.AgentMetadataFileName)}
}

func NewConversationMetadataStore(dataDir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(dataDir, paths.ConversationMetadataFileName)}
}

// Set writes the entity's metadata. CreatedAt survives from any existing
// record; UpdatedAt is stamped on every write.
func (s *MetadataStore) Set(id string, meta EntityMetadata) (EntityMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newMetadataFile())
	if err != nil {
		return EntityMetadata{}, err
	}
	if f.Entities == nil {
		f.Entities = make(map[string]EntityMetadata)
	}

	now := time.Now()
	if prev, ok := f.Entities[id]; ok && !prev.CreatedAt.IsZero() {
		meta.CreatedAt = prev.CreatedAt
	} else {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	f.Entities[id] = meta
	if err := jsonstore.Save(s.path, f); err != nil {
		return EntityMetadata{}, err
	}
	return meta, nil
}

// Get looks up one entity's metadata.
func (s *MetadataStore) Get(id string) (EntityMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newMetadataFile())
	if err != nil {
		return EntityMetadata{}, false, err
	}
	meta, ok := f.Entities[id]
	return meta, ok, nil
}

// All returns every entity's metadata keyed by id.
func (s *MetadataStore) All() (map[string]EntityMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newMetadataFile())
	if err != nil {
		return nil, err
	}
	out := make(map[string]EntityMetadata, len(f.Entities))
	for id, meta := range f.Entities {
		out[id] = meta
	}
	return out, nil
}
