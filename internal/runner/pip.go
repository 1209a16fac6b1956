package runner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var packageName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// PipInstaller installs packages by running Command through the bash kind.
type PipInstaller struct {
	Runner *Runner
	// Command is a format string with one %s for the package name.
	Command string
	Limit   int
}

// Install runs the install command and returns its stdout. Names that are
// not plain package names are refused without running anything.
func (p *PipInstaller) Install(ctx context.Context, name string) string {
	if p == nil || p.Runner == nil || !packageName.MatchString(name) {
		return ""
	}
	command := p.Command
	if !strings.Contains(command, "%s") {
		command = "python3 -m pip install %s"
	}
	res := p.Runner.Run(ctx, KindBash, fmt.Sprintf(command, name), Options{Limit: p.Limit})
	return res.StdoutText()
}
