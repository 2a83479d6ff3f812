package enrich

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
)

// editInput is the slice of an Edit or Write input payload the churn
// estimator reads. Unknown fields are ignored.
type editInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Content   string `json:"content"`
	Edits     []struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	} `json:"edits"`
}

// EstimateChurn approximates line churn from successful Edit and Write
// inputs. Unlike the git snapshot it also sees work that was later
// reverted, so the two can legitimately disagree.
func EstimateChurn(usages []hookstore.ToolUsage) ChurnEstimate {
	var est ChurnEstimate
	files := make(map[string]struct{})
	for _, u := range usages {
		if !u.Success || len(u.ToolInput) == 0 {
			continue
		}
		var in editInput
		if err := json.Unmarshal(u.ToolInput, &in); err != nil {
			continue
		}

		var added, removed int
		switch u.ToolName {
		case "Edit":
			added, removed = diffLineCounts(in.OldString, in.NewString)
		case "MultiEdit":
			for _, e := range in.Edits {
				a, r := diffLineCounts(e.OldString, e.NewString)
				added += a
				removed += r
			}
		case "Write":
			added = countLines(in.Content)
		default:
			continue
		}
		if added == 0 && removed == 0 {
			continue
		}

		est.LinesAdded += added
		est.LinesRemoved += removed
		if in.FilePath != "" {
			files[in.FilePath] = struct{}{}
		}
	}
	est.Files = len(files)
	return est
}

// diffLineCounts runs a line-mode diff and counts inserted and deleted
// lines. Binary-looking inputs are skipped; line counting only applies
// to text.
func diffLineCounts(before, after string) (added, removed int) {
	switch {
	case before == after:
		return 0, 0
	case before == "":
		return countLines(after), 0
	case after == "":
		return 0, countLines(before)
	}
	if strings.ContainsRune(before, '\x00') || strings.ContainsRune(after, '\x00') {
		return 0, 0
	}

	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}
	return added, removed
}

// countLines counts lines the way an editor shows them: empty text has
// none, text without a trailing newline still counts its last line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
