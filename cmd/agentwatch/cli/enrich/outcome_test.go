package enrich

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
)

func TestParseTestOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantPassed int
		wantFailed int
		wantOK     bool
	}{
		{
			name:       "go_test_verbose",
			text:       "=== RUN   TestA\n--- PASS: TestA (0.00s)\n=== RUN   TestB\n--- FAIL: TestB (0.01s)\n--- PASS: TestC (0.00s)\nFAIL\n",
			wantPassed: 2,
			wantFailed: 1,
			wantOK:     true,
		},
		{
			name:       "jest_summary",
			text:       "Tests:       1 failed, 11 passed, 12 total\nTime: 2.1s",
			wantPassed: 11,
			wantFailed: 1,
			wantOK:     true,
		},
		{
			name:       "pytest_summary",
			text:       "========= 7 passed in 0.42s =========",
			wantPassed: 7,
			wantOK:     true,
		},
		{
			name:       "mocha_passing",
			text:       "  3 passing (120ms)\n  1 failing",
			wantPassed: 3,
			wantFailed: 1,
			wantOK:     true,
		},
		{
			name:       "failures_only",
			text:       "2 failures",
			wantFailed: 2,
			wantOK:     true,
		},
		{
			name:   "plain_build_output",
			text:   "compiled 14 files in 300ms",
			wantOK: false,
		},
		{
			name:   "empty",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			passed, failed, ok := parseTestOutput(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPassed, passed)
			assert.Equal(t, tt.wantFailed, failed)
		})
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		usage    hookstore.ToolUsage
		wantCode int
		wantOK   bool
	}{
		{
			name:     "go_exit_status_in_error",
			usage:    hookstore.ToolUsage{Error: "command failed: exit status 2"},
			wantCode: 2,
			wantOK:   true,
		},
		{
			name:     "exit_code_in_response",
			usage:    hookstore.ToolUsage{Response: "make: *** [test] Error 1\nExit code: 1"},
			wantCode: 1,
			wantOK:   true,
		},
		{
			name:     "error_wins_over_response",
			usage:    hookstore.ToolUsage{Error: "exit status 3", Response: "exit status 1"},
			wantCode: 3,
			wantOK:   true,
		},
		{
			name:     "explicit_zero",
			usage:    hookstore.ToolUsage{Response: "exit status 0"},
			wantCode: 0,
			wantOK:   true,
		},
		{
			name:   "no_evidence",
			usage:  hookstore.ToolUsage{Response: "done"},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, ok := exitCode(tt.usage)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestComputeOutcome(t *testing.T) {
	t.Parallel()

	usages := []hookstore.ToolUsage{
		{ToolName: "Read", Success: true},
		{ToolName: "Bash", Success: true, Response: "--- PASS: TestA (0.00s)\n--- PASS: TestB (0.00s)\nok\n"},
		{ToolName: "Bash", Success: false, Error: "exit status 1", Response: "1 failed, 4 passed"},
		{ToolName: "Edit", Success: true, ToolInput: json.RawMessage(`{"file_path":"a.go","old_string":"x\n","new_string":"y\nz\n"}`)},
		{ToolName: "Bash", Success: true, Response: "total 12\ndrwxr-xr-x ."},
	}

	o := ComputeOutcome(usages)
	assert.Equal(t, 5, o.ToolCalls)
	assert.Equal(t, 4, o.Successes)
	assert.Equal(t, 1, o.Failures)
	assert.Equal(t, 2, o.TestRuns)
	assert.Equal(t, 6, o.TestsPassed)
	assert.Equal(t, 1, o.TestsFailed)
	assert.Equal(t, 1, o.NonZeroExits)
	assert.Equal(t, ChurnEstimate{Files: 1, LinesAdded: 2, LinesRemoved: 1}, o.EditChurn)
}

func TestComputeOutcome_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Outcome{}, ComputeOutcome(nil))
}

func TestComputeOutcome_TestOutputOnNonBashIgnored(t *testing.T) {
	t.Parallel()

	usages := []hookstore.ToolUsage{
		{ToolName: "Read", Success: true, Response: "5 passed"},
	}
	o := ComputeOutcome(usages)
	assert.Zero(t, o.TestRuns)
	assert.Zero(t, o.TestsPassed)
}

func TestPermissionDenied(t *testing.T) {
	t.Parallel()

	assert.True(t, permissionDenied(hookstore.ToolUsage{Error: "Permission denied by user"}))
	assert.True(t, permissionDenied(hookstore.ToolUsage{Error: "SECURITY_BLOCKED: rule r1"}))
	assert.False(t, permissionDenied(hookstore.ToolUsage{Success: true}))
	assert.False(t, permissionDenied(hookstore.ToolUsage{Error: "exit status 1"}))
}
