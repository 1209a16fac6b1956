package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/stupiduntilnot/agent0/internal/toolpool"
)

// Run refreshes the pool once, which also promotes, renames and quarantines.
func (c *ToolsCmd) Run(g *Globals) error {
	a, err := setup(g, "tools")
	if err != nil {
		return err
	}
	defer a.Close()

	imports, quarantined := a.registry.Refresh(context.Background())
	if c.Stubs {
		imports = stubs(a.registry.Tools())
	}
	printTools(os.Stdout, imports, quarantined)
	return nil
}

func stubs(tools []toolpool.Tool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, strings.TrimRight(t.Stub, "\n"))
	}
	return out
}

func printTools(w io.Writer, imports []string, quarantined map[string]string) {
	if len(imports) == 0 {
		fmt.Fprintln(w, "no tools")
	}
	for _, line := range imports {
		fmt.Fprintf(w, "%s\n\n", line)
	}
	if len(quarantined) == 0 {
		return
	}
	paths := make([]string, 0, len(quarantined))
	for p := range quarantined {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	fmt.Fprintln(w, "quarantined:")
	for _, p := range paths {
		fmt.Fprintf(w, "  %s: %s\n", p, quarantined[p])
	}
}
