package transcript

import (
	"strconv"
	"strings"

	"github.com/stupiduntilnot/agent0/internal/runner"
)

// UserContent renders a turn's results as the next user message. A lone
// user-kind result is passed through as plain text; anything else becomes
// "key: value" lines per result, separated by blank lines. Empty fields are
// omitted.
func UserContent(results []runner.Result, userKind runner.Kind) string {
	if len(results) == 0 {
		return ""
	}
	if len(results) == 1 && results[0].Kind == userKind {
		if s := results[0].StdoutText(); s != "" {
			return s
		}
		return results[0].StderrText()
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, renderResult(r))
	}
	return strings.Join(blocks, "\n\n")
}

func renderResult(r runner.Result) string {
	var lines []string
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, key+": "+value)
		}
	}
	add("iteration", strconv.Itoa(r.Iteration))
	add("generation", strconv.Itoa(r.Generation))
	add("case", string(r.Kind))
	add("stdout", r.StdoutText())
	add("stderr", r.StderrText())
	add("exception", r.ExceptionText())
	return strings.Join(lines, "\n")
}
