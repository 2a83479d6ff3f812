package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// CheckAndNotify performs a version check and prints a notice on stderr if
// a newer release exists. At most one network fetch per day; the check time
// is cached in the data directory. Silent on all errors so it never
// interrupts the command that triggered it.
func CheckAndNotify(cmd *cobra.Command, currentVersion string) {
	// Skip checks for hidden commands
	if cmd.Hidden {
		return
	}

	// Skip checks for dev builds
	if currentVersion == "dev" || currentVersion == "" {
		return
	}

	cache, err := loadCache()
	if err != nil {
		cache = &VersionCache{}
	}

	// Skip if we checked recently (within 24 hours)
	if time.Since(cache.LastCheckTime) < checkInterval {
		return
	}

	latestVersion, err := fetchLatestVersion()

	// Always update cache to avoid retrying on every CLI invocation
	cache.LastCheckTime = time.Now()
	if saveErr := saveCache(cache); saveErr != nil {
		logging.Debug(context.Background(), "version check: failed to save cache",
			"error", saveErr.Error())
	}

	if err != nil {
		logging.Debug(context.Background(), "version check: failed to fetch latest version",
			"error", err.Error())
		return
	}

	if isOutdated(currentVersion, latestVersion) {
		printNotification(cmd, currentVersion, latestVersion)
	}
}

// cacheFilePath returns the full path to the version check cache file.
func cacheFilePath() (string, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, paths.VersionCacheFileName), nil
}

// loadCache loads the version check cache from disk.
// Returns an error if the file doesn't exist or is corrupted.
func loadCache() (*VersionCache, error) {
	filePath, err := cacheFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // cacheFilePath is safe
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var cache VersionCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}

	return &cache, nil
}

// saveCache saves the version check cache to disk.
func saveCache(cache *VersionCache) error {
	filePath, err := cacheFilePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	return paths.WriteFileAtomic(filePath, data, 0o600)
}

// fetchLatestVersion fetches the latest version from the GitHub API.
func fetchLatestVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "agentwatch-cli")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Read response body (limit to 1MB to prevent memory exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	version, err := parseGitHubRelease(body)
	if err != nil {
		return "", fmt.Errorf("parsing release: %w", err)
	}

	return version, nil
}

// parseGitHubRelease parses the GitHub API response and extracts the latest
// stable version. Filters out prerelease versions.
func parseGitHubRelease(body []byte) (string, error) {
	var release GitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}

	if release.Prerelease {
		return "", errors.New("only prerelease versions available")
	}

	if release.TagName == "" {
		return "", errors.New("empty tag name")
	}

	return release.TagName, nil
}

// isOutdated compares current and latest versions using semantic versioning.
// Returns true if current < latest.
func isOutdated(current, latest string) bool {
	// Ensure versions have "v" prefix for semver package
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(latest, "v") {
		latest = "v" + latest
	}

	// semver.Compare returns -1 if current < latest
	return semver.Compare(current, latest) < 0
}

// updateCommand returns the appropriate update instruction based on how the
// binary was installed.
func updateCommand() string {
	execPath, err := os.Executable()
	if err != nil {
		return "curl -fsSL https://agentwatch.dev/install.sh | bash"
	}

	// Resolve symlinks to find the real path (Homebrew symlinks from bin/ to Cellar/)
	realPath, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		realPath = execPath
	}

	if strings.Contains(realPath, "/Cellar/") || strings.Contains(realPath, "/homebrew/") {
		return "brew upgrade agentwatch"
	}

	return "curl -fsSL https://agentwatch.dev/install.sh | bash"
}

// printNotification prints the version update notification on stderr so it
// never mixes into piped command output.
func printNotification(cmd *cobra.Command, current, latest string) {
	msg := fmt.Sprintf("\nA newer version of AgentWatch is available: %s (current: %s)\nRun '%s' to update.\n",
		latest, current, updateCommand())
	fmt.Fprint(cmd.ErrOrStderr(), msg)
}
