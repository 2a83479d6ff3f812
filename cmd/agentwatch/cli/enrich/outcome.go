package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
)

// Test-result extraction, tried per Bash response. Go's verbose runner
// prints one marker per test; jest, pytest, vitest and mocha all end with
// a "N passed"/"N failed" summary line.
var (
	goPassMarker   = regexp.MustCompile(`--- PASS: `)
	goFailMarker   = regexp.MustCompile(`--- FAIL: `)
	passCountRegex = regexp.MustCompile(`(\d+) pass(?:ed|ing)\b`)
	failCountRegex = regexp.MustCompile(`(\d+) fail(?:ed|ing|ures?)\b`)
	exitCodeRegex  = regexp.MustCompile(`(?i)exit (?:status|code):? (\d+)`)
)

// ComputeOutcome folds a session's usage list into its observable result:
// call and failure counts, recognised test-runner totals, how many calls
// left exit-code evidence of a non-zero exit, and a line-churn estimate
// from the edit inputs.
func ComputeOutcome(usages []hookstore.ToolUsage) Outcome {
	o := Outcome{ToolCalls: len(usages)}
	for _, u := range usages {
		if u.Success {
			o.Successes++
		} else {
			o.Failures++
		}
		if code, ok := exitCode(u); ok && code != 0 {
			o.NonZeroExits++
		}
		if u.ToolName != "Bash" {
			continue
		}
		if passed, failed, ok := parseTestOutput(u.Response); ok {
			o.TestRuns++
			o.TestsPassed += passed
			o.TestsFailed += failed
		}
	}
	o.EditChurn = EstimateChurn(usages)
	return o
}

// parseTestOutput recognises test-runner summaries in command output.
// Returns ok=false when nothing test-shaped is found.
func parseTestOutput(text string) (passed, failed int, ok bool) {
	if text == "" {
		return 0, 0, false
	}
	gp := len(goPassMarker.FindAllString(text, -1))
	gf := len(goFailMarker.FindAllString(text, -1))
	if gp > 0 || gf > 0 {
		return gp, gf, true
	}
	if m := passCountRegex.FindStringSubmatch(text); m != nil {
		passed, _ = strconv.Atoi(m[1])
		ok = true
	}
	if m := failCountRegex.FindStringSubmatch(text); m != nil {
		failed, _ = strconv.Atoi(m[1])
		ok = true
	}
	return passed, failed, ok
}

// exitCode digs an exit code out of the error text first, then the
// response. Hook errors for failed commands carry "exit status N".
func exitCode(u hookstore.ToolUsage) (int, bool) {
	for _, text := range []string{u.Error, u.Response} {
		m := exitCodeRegex.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code, true
		}
	}
	return 0, false
}

// permissionDenied reports whether a failed usage looks like a rejected
// permission prompt or a security block.
func permissionDenied(u hookstore.ToolUsage) bool {
	if u.Success || u.Error == "" {
		return false
	}
	return strings.Contains(strings.ToLower(u.Error), "permission") ||
		strings.HasPrefix(u.Error, "SECURITY_BLOCKED")
}
