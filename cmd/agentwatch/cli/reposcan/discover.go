package reposcan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// discover walks the configured roots and returns git repo paths. A
// directory counts once its .git entry opens as a repository; the walk
// does not descend into found repos, ignored names, or dot-directories.
func discover(ctx context.Context, roots, ignore []string, maxDepth int) []string {
	var found []string
	seen := make(map[string]bool)

	for _, root := range roots {
		expanded, err := paths.ExpandHome(root)
		if err != nil {
			logging.Warn(ctx, "skipping unresolvable root", "root", root, "error", err)
			continue
		}
		expanded = filepath.Clean(expanded)

		walkErr := filepath.WalkDir(expanded, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != expanded {
				name := d.Name()
				if strings.HasPrefix(name, ".") || slices.Contains(ignore, name) {
					return filepath.SkipDir
				}
				if depthOf(expanded, path) > maxDepth {
					return filepath.SkipDir
				}
			}
			if isRepo(path) {
				if !seen[path] {
					seen[path] = true
					found = append(found, path)
				}
				if path != expanded {
					return filepath.SkipDir
				}
			}
			return nil
		})
		if walkErr != nil {
			logging.Warn(ctx, "repo walk failed", "root", expanded, "error", walkErr)
		}
	}
	return found
}

// isRepo reports whether dir opens as a git repository.
func isRepo(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	_, err := git.PlainOpen(dir)
	return err == nil
}

func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
