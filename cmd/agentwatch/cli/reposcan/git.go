package reposcan

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
)

// Timeouts for git subprocesses. Fetches touch the network and get more
// headroom.
const (
	statusTimeout = 5 * time.Second
	fetchTimeout  = 10 * time.Second
)

// errGitTimeout marks a call killed by its deadline; the repo record is
// flagged timed-out instead of errored.
var errGitTimeout = errors.New("git command timed out")

// runGit executes one git command in dir with a hard timeout and returns
// trimmed stdout.
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", errGitTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", errors.New(strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// parsePorcelain counts entries in `git status --porcelain` output.
// Conflict markers set the conflicted flag rather than a counter; a line
// can be both staged and unstaged.
func parsePorcelain(out string) (staged, unstaged, untracked int, conflicted bool) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 2 {
			continue
		}
		code := line[:2]
		switch {
		case code == "??":
			untracked++
		case isConflictCode(code):
			conflicted = true
		default:
			if code[0] != ' ' {
				staged++
			}
			if code[1] != ' ' {
				unstaged++
			}
		}
	}
	return staged, unstaged, untracked, conflicted
}

func isConflictCode(code string) bool {
	switch code {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// parseAheadBehind parses `git rev-list --left-right --count HEAD...@{u}`
// output, "ahead<TAB>behind".
func parseAheadBehind(out string) (ahead, behind int, ok bool) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, false
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, false
	}
	behind, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, false
	}
	return ahead, behind, true
}

// resolveGitDir returns the actual git directory for a repo, following the
// "gitdir: <path>" redirect worktrees use.
func resolveGitDir(repoPath string) string {
	dotGit := filepath.Join(repoPath, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		return dotGit
	}
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	target, found := strings.CutPrefix(line, "gitdir:")
	if !found {
		return ""
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(repoPath, target)
	}
	return filepath.Clean(target)
}

// detectSpecials inspects the git dir for in-progress operation markers.
// The conflicted flag comes from porcelain output, not from here.
func detectSpecials(gitDir string) livestore.RepoFlags {
	var flags livestore.RepoFlags
	if gitDir == "" {
		return flags
	}
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(gitDir, name))
		return err == nil
	}
	flags.Merge = exists("MERGE_HEAD")
	flags.Rebase = exists("rebase-merge") || exists("rebase-apply")
	flags.CherryPick = exists("CHERRY_PICK_HEAD")
	flags.Revert = exists("REVERT_HEAD")
	return flags
}
