package enrich

// Score weights. They sum to 100 so the composite needs no normalising
// pass.
const (
	successWeight = 30
	commitWeight  = 20
	loopWeight    = 20
	testWeight    = 20
	diffWeight    = 10
)

// Score folds the stage results into a 0-100 composite. A session with no
// tool calls scores the full success weight; nothing failed. commits
// counts attributed commits from whichever source saw more, hook
// extraction or the diff range.
func Score(o Outcome, loops LoopReport, diff *DiffSnapshot, commits int) int {
	score := 0

	if o.ToolCalls == 0 {
		score += successWeight
	} else {
		score += int(float64(successWeight) * float64(o.Successes) / float64(o.ToolCalls))
	}

	if commits > 0 {
		score += commitWeight
	}

	switch {
	case !loops.Detected:
		score += loopWeight
	case loops.Severity == SeverityLow:
		score += 13
	case loops.Severity == SeverityMedium:
		score += 7
	}

	if o.TestRuns > 0 {
		if o.TestsFailed == 0 {
			score += testWeight
		} else {
			score += 8
		}
	}

	if diff != nil && (diff.Insertions+diff.Deletions > 0 || diff.CommitCount > 0 || diff.UncommittedFiles > 0) {
		score += diffWeight
	}

	return score
}

// Classify buckets a composite score.
func Classify(score int) string {
	switch {
	case score >= 80:
		return ClassExcellent
	case score >= 60:
		return ClassGood
	case score >= 40:
		return ClassFair
	default:
		return ClassPoor
	}
}
