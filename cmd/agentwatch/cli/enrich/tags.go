package enrich

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
)

// editingTools name the tools whose input carries a file path being
// created or modified.
var editingTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// languageByExt maps file extensions to language tags.
var languageByExt = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".rb":    "ruby",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".css":   "css",
	".html":  "html",
	".tf":    "terraform",
}

var choreExts = map[string]bool{
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".lock": true, ".mod": true, ".sum": true, ".ini": true,
}

var docsExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true,
}

// pathInput is the slice of a tool input the tagger reads.
type pathInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
}

// editedPaths extracts the distinct file paths touched by editing tools,
// in first-touch order.
func editedPaths(usages []hookstore.ToolUsage) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, usage := range usages {
		if !editingTools[usage.ToolName] {
			continue
		}
		var input pathInput
		if err := json.Unmarshal(usage.ToolInput, &input); err != nil {
			continue
		}
		path := input.FilePath
		if path == "" {
			path = input.NotebookPath
		}
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}

// isTestPath reports whether a path looks like a test file.
func isTestPath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "test_"),
		strings.Contains(lower, "/tests/"),
		strings.Contains(lower, "/__tests__/"):
		return true
	}
	return false
}

func isChorePath(path string) bool {
	base := filepath.Base(path)
	if base == "Makefile" || base == "Dockerfile" || strings.HasPrefix(base, ".") {
		return true
	}
	return choreExts[strings.ToLower(filepath.Ext(path))]
}

// inferTaskType classifies the session from its edit distribution and
// outcome. The checks run from the most specific signal to the least.
func inferTaskType(edited []string, outcome Outcome) string {
	if len(edited) == 0 {
		return TaskOther
	}

	tests, docs, chores := 0, 0, 0
	for _, path := range edited {
		switch {
		case isTestPath(path):
			tests++
		case docsExts[strings.ToLower(filepath.Ext(path))]:
			docs++
		case isChorePath(path):
			chores++
		}
	}

	half := (len(edited) + 1) / 2
	switch {
	case tests >= half:
		return TaskTest
	case docs >= half:
		return TaskDocs
	case chores >= half:
		return TaskChore
	case outcome.Failures > 0 && len(edited) <= 3:
		// Tight edit surface plus observed failures reads like chasing
		// a defect.
		return TaskBugfix
	case len(edited) >= 5:
		return TaskRefactor
	}
	return TaskFeature
}

// languageTags derives sorted language tags from edited file extensions.
func languageTags(edited []string) []string {
	set := make(map[string]bool)
	for _, path := range edited {
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
			set[lang] = true
		}
	}
	tags := make([]string, 0, len(set))
	for lang := range set {
		tags = append(tags, lang)
	}
	sort.Strings(tags)
	return tags
}
