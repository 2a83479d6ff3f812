package share

import (
	"path/filepath"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

const settingsVersion = 1

// Settings holds the contributor's default export choices. Saved once and
// reused by later share invocations; flags override per run.
type Settings struct {
	Version int `json:"version"`

	// Handle is the contributor name embedded in exported bundles.
	Handle string `json:"handle,omitempty"`

	// IncludeLocalPaths keeps machine-local paths (cwd, transcript
	// location) in the bundle. Off by default; paths identify the user's
	// machine layout.
	IncludeLocalPaths bool `json:"includeLocalPaths"`

	// IncludeTranscript exports the redacted transcript alongside the
	// bundle when the session has one.
	IncludeTranscript bool `json:"includeTranscript"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Settings) Touch(now time.Time) { s.UpdatedAt = now }

func settingsPath(dataDir string) string {
	return filepath.Join(dataDir, paths.ContributorSettingsFileName)
}

// LoadSettings reads the contributor settings, returning defaults when the
// file is absent.
func LoadSettings(dataDir string) (Settings, error) {
	return jsonstore.Load(settingsPath(dataDir), Settings{Version: settingsVersion})
}

// SaveSettings persists the contributor settings, stamping UpdatedAt.
func SaveSettings(dataDir string, s Settings) (Settings, error) {
	s.Version = settingsVersion
	if err := jsonstore.Save(settingsPath(dataDir), &s); err != nil {
		return s, err
	}
	return s, nil
}
