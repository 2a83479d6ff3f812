package procscan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
)

// compiledMatcher is one configured matcher ready to evaluate. Matchers
// run in declared order and the first match wins.
type compiledMatcher struct {
	label   string
	kind    string
	pattern string
	re      *regexp.Regexp
}

func compileMatchers(matchers []config.Matcher) ([]compiledMatcher, error) {
	out := make([]compiledMatcher, 0, len(matchers))
	for _, m := range matchers {
		cm := compiledMatcher{label: m.Label, kind: m.Type, pattern: m.Pattern}
		if m.Type == config.MatchCmdRegex {
			re, err := regexp.Compile(m.Pattern)
			if err != nil {
				return nil, fmt.Errorf("matcher %q: %w", m.Label, err)
			}
			cm.re = re
		}
		out = append(out, cm)
	}
	return out, nil
}

// matches evaluates one matcher against a process's executable basename
// and full command line.
func (m *compiledMatcher) matches(name, cmdline string) bool {
	switch m.kind {
	case config.MatchExeBasename:
		return name == m.pattern
	case config.MatchCmdRegex:
		return m.re.MatchString(cmdline)
	case config.MatchCmdSubstring:
		return strings.Contains(cmdline, m.pattern)
	default:
		return false
	}
}

// matchLabel returns the label of the first matcher that accepts the
// process, or "" when none do.
func matchLabel(matchers []compiledMatcher, name, cmdline string) string {
	for i := range matchers {
		if matchers[i].matches(name, cmdline) {
			return matchers[i].label
		}
	}
	return ""
}
