package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultDirName is the data directory under the user home.
const DefaultDirName = ".agentwatch"

// DataDirEnv overrides the data directory location. Used by tests and by
// users who keep the archive somewhere other than the home directory.
const DataDirEnv = "AGENTWATCH_DIR"

// Subdirectories of the data directory.
const (
	HooksDirName       = "hooks"
	ProcessesDirName   = "processes"
	TranscriptsDirName = "transcripts"
	EnrichmentsDirName = "enrichments"
	LogsDirName        = "logs"
	SharesDirName      = "shares"
)

// Partition patterns. Exactly one '*' which is replaced by YYYY-MM-DD.
const (
	SessionsPattern         = "sessions_*.jsonl"
	ToolUsagesPattern       = "tool_usages_*.jsonl"
	CommitsPattern          = "commits_*.jsonl"
	ProcessSnapshotsPattern = "snapshots_*.jsonl"
	ProcessEventsPattern    = "events_*.jsonl"
)

// Single-file blobs under the data directory.
const (
	StatsFileName                = "stats.json"
	TranscriptIndexFileName      = "index.json"
	EnrichmentStoreFileName      = "store.json"
	AnnotationsFileName          = "annotations.json"
	AgentMetadataFileName        = "agent-metadata.json"
	ConversationMetadataFileName = "conversation-metadata.json"
	EventsLogFileName            = "events.jsonl"
	LegacyAuditLogFileName       = "audit.jsonl"
	ContributorSettingsFileName  = "contributor-settings.json"
	ManagedSessionsFileName      = "managed-sessions.json"
	PidFileName                  = "watcher.pid"
	ConfigFileName               = "config.yaml"
	VersionCacheFileName         = "version-check.json"
)

// ExpandHome expands a leading "~" or "~/" to the user home directory.
// Paths without the prefix are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// DataDir returns the AgentWatch data directory (~/.agentwatch by default,
// AGENTWATCH_DIR when set). The directory is not created.
func DataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return ExpandHome(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// EnsureDir creates the directory and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a sibling temp file and rename.
// The temp name carries the PID so concurrent writers never collide; rename
// is atomic on the same filesystem, so readers observe either the old or
// the new content, never a torn file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(path), os.Getpid()))
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", tmp, err)
	}
	return nil
}

// partitionDateRegex matches the date embedded in partition file names.
var partitionDateRegex = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// PartitionPath substitutes date (YYYY-MM-DD) for the single '*' in pattern.
func PartitionPath(pattern string, date time.Time) string {
	return strings.Replace(pattern, "*", date.Format("2006-01-02"), 1)
}

// PartitionDate extracts the embedded date from a partition file name.
// Returns false if the name carries no parseable date.
func PartitionDate(name string) (time.Time, bool) {
	match := partitionDateRegex.FindString(filepath.Base(name))
	if match == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", match)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RepoRootFrom walks upward from dir looking for a directory that contains
// a .git entry. The walk is bounded so a pathological cwd cannot send us to
// the filesystem root one hop at a time forever. Returns "" when no repo
// root is found.
func RepoRootFrom(dir string) string {
	const maxDepth = 12

	current := filepath.Clean(dir)
	for i := 0; i < maxDepth; i++ {
		if current == "" || current == "/" || current == "." {
			return ""
		}
		// .git may be a directory (working copy) or a file (worktree)
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
	return ""
}

// pathSafeRegex matches strings safe for use in file paths (no path separators or traversal)
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// ValidateSessionID validates that a session ID is non-empty and doesn't contain path separators.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidateToolUseID validates that a tool use ID contains only safe characters for paths.
// Tool use IDs can be UUIDs or prefixed identifiers like "toolu_xxx".
func ValidateToolUseID(id string) error {
	if id == "" {
		return nil // Empty is allowed (optional field)
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid tool use ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// nonAlphanumericRegex matches any non-alphanumeric character
var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizePathForClaude converts a path to Claude's project directory format.
// Claude replaces any non-alphanumeric character with a dash.
func SanitizePathForClaude(path string) string {
	return nonAlphanumericRegex.ReplaceAllString(path, "-")
}

// ClaudeProjectsDir returns the root directory where Claude Code stores
// per-project session transcripts.
//
// In test environments, set AGENTWATCH_TEST_CLAUDE_PROJECT_DIR to override
// the default location.
func ClaudeProjectsDir() (string, error) {
	if override := os.Getenv("AGENTWATCH_TEST_CLAUDE_PROJECT_DIR"); override != "" {
		return override, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude", "projects"), nil
}

// ClaudeProjectDir returns the transcript directory for one repository path.
func ClaudeProjectDir(repoPath string) (string, error) {
	root, err := ClaudeProjectsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, SanitizePathForClaude(repoPath)), nil
}
