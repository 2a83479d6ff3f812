package enrich

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

const annotationsVersion = 1

// maxRating is the top of the star scale.
const maxRating = 5

type annotationsFile struct {
	Version     int                   `json:"version"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	Annotations map[string]Annotation `json:"annotations"`
}

func (f *annotationsFile) Touch(now time.Time) { f.UpdatedAt = now }

func newAnnotationsFile() *annotationsFile {
	return &annotationsFile{Version: annotationsVersion, Annotations: make(map[string]Annotation)}
}

// Validate rejects out-of-range annotation fields before they reach disk.
func (a Annotation) Validate() error {
	switch a.Feedback {
	case "", FeedbackPositive, FeedbackNegative, FeedbackNeutral:
	default:
		return fmt.Errorf("feedback must be %s, %s or %s", FeedbackPositive, FeedbackNegative, FeedbackNeutral)
	}
	if a.Rating < 0 || a.Rating > maxRating {
		return fmt.Errorf("rating must be between 0 and %d", maxRating)
	}
	return nil
}

// AnnotationStore persists user feedback keyed by canonical session ref,
// in one JSON file at the data dir root.
type AnnotationStore struct {
	path string
	mu   sync.Mutex
}

func NewAnnotationStore(dataDir string) *AnnotationStore {
	return &AnnotationStore{path: filepath.Join(dataDir, paths.AnnotationsFileName)}
}

// Set validates and writes the annotation, stamping UpdatedAt.
func (s *AnnotationStore) Set(ref string, a Annotation) (Annotation, error) {
	if ref == "" {
		return Annotation{}, fmt.Errorf("annotation ref is empty")
	}
	if err := a.Validate(); err != nil {
		return Annotation{}, err
	}
	a.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newAnnotationsFile())
	if err != nil {
		return Annotation{}, err
	}
	if f.Annotations == nil {
		f.Annotations = make(map[string]Annotation)
	}
	f.Annotations[ref] = a
	if err := jsonstore.Save(s.path, f); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// Get looks up the annotation for a canonical ref.
func (s *AnnotationStore) Get(ref string) (Annotation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newAnnotationsFile())
	if err != nil {
		return Annotation{}, false, err
	}
	a, ok := f.Annotations[ref]
	return a, ok, nil
}

// All returns every annotation keyed by ref.
func (s *AnnotationStore) All() (map[string]Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := jsonstore.Load(s.path, newAnnotationsFile())
	if err != nil {
		return nil, err
	}
	out := make(map[string]Annotation, len(f.Annotations))
	for ref, a := range f.Annotations {
		out[ref] = a
	}
	return out, nil
}
