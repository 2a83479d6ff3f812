package enrich

import (
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
)

// Loop window kinds.
const (
	LoopIdenticalInput = "identical_input"
	LoopOscillation    = "oscillation"
	LoopPermission     = "permission"
)

// Loop severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	// identicalRunThreshold is the shortest run of byte-identical calls
	// that counts as a loop. Two retries are normal; three are not.
	identicalRunThreshold = 3

	// oscillationMinLen is the shortest A-B-A-B tool alternation flagged.
	oscillationMinLen = 6

	// permissionRunThreshold is the shortest run of consecutive
	// permission denials for one tool flagged as a dialog loop.
	permissionRunThreshold = 3
)

// DetectLoops scans the usage sequence, oldest first, for the three stuck
// patterns and grades the overall severity. Window indexes are positions
// in the input slice, inclusive on both ends.
func DetectLoops(usages []hookstore.ToolUsage) LoopReport {
	var windows []LoopWindow
	windows = append(windows, identicalRuns(usages)...)
	windows = append(windows, oscillations(usages)...)
	windows = append(windows, permissionRuns(usages)...)
	if len(windows) == 0 {
		return LoopReport{}
	}
	return LoopReport{Detected: true, Severity: severity(windows), Windows: windows}
}

func sameCall(a, b hookstore.ToolUsage) bool {
	return a.ToolName == b.ToolName && string(a.ToolInput) == string(b.ToolInput)
}

func identicalRuns(usages []hookstore.ToolUsage) []LoopWindow {
	var out []LoopWindow
	start := 0
	for i := 1; i <= len(usages); i++ {
		if i < len(usages) && sameCall(usages[i], usages[start]) {
			continue
		}
		if n := i - start; n >= identicalRunThreshold {
			out = append(out, LoopWindow{
				Kind:  LoopIdenticalInput,
				Tool:  usages[start].ToolName,
				Start: start,
				End:   i - 1,
				Count: n,
			})
		}
		start = i
	}
	return out
}

// oscillations finds maximal windows where two distinct tools strictly
// alternate. Extension compares each position against the one two back,
// so any third tool breaks the window.
func oscillations(usages []hookstore.ToolUsage) []LoopWindow {
	var out []LoopWindow
	i := 0
	for i < len(usages)-1 {
		a, b := usages[i].ToolName, usages[i+1].ToolName
		if a == b {
			i++
			continue
		}
		j := i + 2
		for j < len(usages) && usages[j].ToolName == usages[j-2].ToolName {
			j++
		}
		if n := j - i; n >= oscillationMinLen {
			out = append(out, LoopWindow{
				Kind:  LoopOscillation,
				Tool:  a + "/" + b,
				Start: i,
				End:   j - 1,
				Count: n,
			})
		}
		// The window's last element may start the next alternation.
		i = j - 1
	}
	return out
}

func permissionRuns(usages []hookstore.ToolUsage) []LoopWindow {
	var out []LoopWindow
	start := 0
	flush := func(end int) {
		if n := end - start; n >= permissionRunThreshold {
			out = append(out, LoopWindow{
				Kind:  LoopPermission,
				Tool:  usages[start].ToolName,
				Start: start,
				End:   end - 1,
				Count: n,
			})
		}
	}
	for i := 0; i < len(usages); i++ {
		if !permissionDenied(usages[i]) {
			flush(i)
			start = i + 1
			continue
		}
		if i > start && usages[i].ToolName != usages[start].ToolName {
			flush(i)
			start = i
		}
	}
	flush(len(usages))
	return out
}

func severity(windows []LoopWindow) string {
	maxCount := 0
	for _, w := range windows {
		if w.Count > maxCount {
			maxCount = w.Count
		}
	}
	switch {
	case maxCount >= 8 || len(windows) >= 3:
		return SeverityHigh
	case maxCount >= 5 || len(windows) >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
