package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome Outcome
		loops   LoopReport
		diff    *DiffSnapshot
		commits int
		want    int
	}{
		{
			name:    "clean_run_maxes_out",
			outcome: Outcome{ToolCalls: 10, Successes: 10, TestRuns: 1, TestsPassed: 5},
			diff:    &DiffSnapshot{CommitCount: 1, Insertions: 40},
			commits: 1,
			want:    100,
		},
		{
			name: "empty_session_is_fair",
			want: 50,
		},
		{
			name:    "half_failures_halve_success_weight",
			outcome: Outcome{ToolCalls: 10, Successes: 5, Failures: 5},
			want:    35,
		},
		{
			name:    "failed_tests_get_partial_credit",
			outcome: Outcome{ToolCalls: 4, Successes: 4, TestRuns: 1, TestsPassed: 3, TestsFailed: 1},
			want:    58,
		},
		{
			name:    "high_severity_loops_zero_loop_weight",
			outcome: Outcome{ToolCalls: 4, Successes: 4},
			loops:   LoopReport{Detected: true, Severity: SeverityHigh},
			want:    30,
		},
		{
			name:    "low_severity_loops_keep_most",
			outcome: Outcome{ToolCalls: 4, Successes: 4},
			loops:   LoopReport{Detected: true, Severity: SeverityLow},
			want:    43,
		},
		{
			name:    "uncommitted_changes_count_as_progress",
			outcome: Outcome{ToolCalls: 2, Successes: 2},
			diff:    &DiffSnapshot{UncommittedFiles: 3},
			want:    60,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Score(tt.outcome, tt.loops, tt.diff, tt.commits))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ClassExcellent, Classify(100))
	assert.Equal(t, ClassExcellent, Classify(80))
	assert.Equal(t, ClassGood, Classify(79))
	assert.Equal(t, ClassGood, Classify(60))
	assert.Equal(t, ClassFair, Classify(59))
	assert.Equal(t, ClassFair, Classify(40))
	assert.Equal(t, ClassPoor, Classify(39))
	assert.Equal(t, ClassPoor, Classify(0))
}
