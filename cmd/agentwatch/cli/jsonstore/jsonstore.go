// Package jsonstore reads and writes the small keyed JSON blobs in the
// AgentWatch data directory (metadata, annotations, enrichments, stats).
//
// Blobs are versioned: each carries a schema version integer that loaders
// compare against what they understand. Versions newer than the current
// code are accepted and preserved on save so a downgrade never destroys
// data written by a newer build.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonutil"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// Touchable is implemented by blobs that track their last update time.
// Save calls Touch just before writing.
type Touchable interface {
	Touch(now time.Time)
}

// Load reads and decodes the blob at path. A missing file or malformed
// JSON yields the default; only unexpected I/O failures are returned as
// errors.
func Load[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from our own data dir
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("reading %s: %w", path, err)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		// Malformed blobs are treated as absent; the next save replaces them.
		return def, nil
	}
	return out, nil
}

// Save stamps the blob's update time (when it is Touchable) and writes it
// atomically, pretty-printed.
func Save(path string, blob any) error {
	if touchable, ok := blob.(Touchable); ok {
		touchable.Touch(time.Now())
	}

	data, err := jsonutil.MarshalIndentWithNewline(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return paths.WriteFileAtomic(path, data, 0o600)
}

// Update loads the blob at path (or the default), applies fn, and saves the
// result. Returns the saved value.
func Update[T any](path string, def T, fn func(*T)) (T, error) {
	blob, err := Load(path, def)
	if err != nil {
		return def, err
	}
	fn(&blob)
	if err := Save(path, &blob); err != nil {
		return blob, err
	}
	return blob, nil
}
