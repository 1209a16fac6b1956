// Package classify annotates Python stderr with recovery hints.
//
// Two failure signatures are recognised: a missing file and a missing
// module. For each, sibling entries of the missing path are fuzzy-matched to
// suggest a fix. A missing top-level module is treated as a third-party
// dependency and installed, after which the caller may retry once.
package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/db"
	"github.com/stupiduntilnot/agent0/internal/fuzzy"
)

const (
	fileNotFoundTag   = "FileNotFoundError: [Errno 2] No such file or directory:"
	moduleNotFoundTag = "ModuleNotFoundError: No module named"

	suggestCutoff = 0.1
	sep           = string(filepath.Separator)
	parent        = ".."
)

// Installer installs a third-party package and returns the installer's stdout.
type Installer interface {
	Install(ctx context.Context, name string) string
}

// Recorder receives dependency install events.
type Recorder interface {
	Event(eventType string, payload map[string]any) int64
}

// Config configures a Classifier.
type Config struct {
	Installer   Installer
	MaxInstalls int
	// Dir resolves relative paths found in stderr. Empty means the process cwd.
	Dir      string
	Logger   *zap.Logger
	Recorder Recorder
}

// Classifier is safe for concurrent use.
type Classifier struct {
	installer   Installer
	maxInstalls int
	dir         string
	logger      *zap.Logger
	recorder    Recorder

	mu        sync.Mutex
	attempted map[string]bool
}

// New returns a Classifier. A nil Installer disables installs.
func New(cfg Config) *Classifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		installer:   cfg.Installer,
		maxInstalls: cfg.MaxInstalls,
		dir:         cfg.Dir,
		logger:      logger.Named("classify"),
		recorder:    cfg.Recorder,
		attempted:   make(map[string]bool),
	}
}

// Classify returns stderr with suggestion lines appended after each matching
// line. tryAgain is true only when a missing dependency was installed, in
// which case the returned text is a short install note.
func (c *Classifier) Classify(ctx context.Context, stderr string) (string, bool) {
	if stderr == "" {
		return stderr, false
	}

	lines := strings.Split(stderr, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		out = append(out, line)

		tag, rest, ok := matchSignature(line)
		if !ok {
			continue
		}
		missing, ok := decodeLiteral(rest)
		if !ok {
			continue
		}

		isModule := tag == moduleNotFoundTag
		candidate := missing
		if isModule {
			candidate = moduleToPath(missing)
		}
		dir, base := splitPath(candidate)

		switch {
		case c.isDir(dir):
			if s, ok := c.suggest(dir, base, isModule); ok {
				out = append(out, fmt.Sprintf("    Did you mean instead: '%s'?", s))
			}
		case strings.TrimSpace(dir) != "":
			out = append(out, fmt.Sprintf("    Directory %s does not exist", dir))
		case isModule:
			if c.install(ctx, missing) {
				return missing + " was pip installed", true
			}
		}
	}
	return strings.Join(out, "\n"), false
}

// matchSignature reports which tag occurs exactly once in line and the text after it.
func matchSignature(line string) (tag, rest string, ok bool) {
	for _, t := range []string{fileNotFoundTag, moduleNotFoundTag} {
		if strings.Count(line, t) != 1 {
			continue
		}
		_, after, _ := strings.Cut(line, t)
		return t, after, true
	}
	return "", "", false
}

// moduleToPath turns a dotted module name into a relative file path. A
// leading ".." becomes a parent directory reference.
func moduleToPath(module string) string {
	p := strings.ReplaceAll(module, ".", sep)
	p = strings.ReplaceAll(p, sep+sep, parent)
	p = strings.ReplaceAll(p, parent, parent+sep)
	return p + ".py"
}

// pathToModule is the inverse rendering used for suggestions.
func pathToModule(p string) string {
	p = strings.TrimSuffix(p, ".py")
	p = strings.ReplaceAll(p, parent+sep, parent)
	return strings.ReplaceAll(p, sep, ".")
}

// splitPath splits like a shell dirname/basename pair: a path with no
// separator has an empty directory.
func splitPath(p string) (string, string) {
	i := strings.LastIndex(p, sep)
	if i < 0 {
		return "", p
	}
	dir, base := p[:i+1], p[i+1:]
	if trimmed := strings.TrimRight(dir, sep); trimmed != "" {
		dir = trimmed
	}
	return dir, base
}

func (c *Classifier) resolve(dir string) string {
	if c.dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.dir, dir)
}

func (c *Classifier) isDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(c.resolve(dir))
	return err == nil && info.IsDir()
}

func (c *Classifier) suggest(dir, base string, isModule bool) (string, bool) {
	entries, err := os.ReadDir(c.resolve(dir))
	if err != nil {
		c.logger.Debug("list dir failed", zap.String("dir", dir), zap.Error(err))
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isModule && !strings.HasSuffix(e.Name(), ".py") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	matches := fuzzy.CloseMatches(base, names, 1, suggestCutoff)
	if len(matches) == 0 {
		return "", false
	}
	suggestion := strings.TrimRight(dir, sep) + sep + matches[0]
	if isModule {
		suggestion = pathToModule(suggestion)
	}
	return suggestion, true
}

// install runs the installer at most once per name and for at most
// maxInstalls distinct names.
func (c *Classifier) install(ctx context.Context, name string) bool {
	if c.installer == nil || strings.TrimSpace(name) == "" {
		return false
	}

	c.mu.Lock()
	if c.attempted[name] || len(c.attempted) >= c.maxInstalls {
		n := len(c.attempted)
		c.mu.Unlock()
		c.logger.Info("install skipped", zap.String("module", name), zap.Int("attempted", n))
		return false
	}
	c.attempted[name] = true
	c.mu.Unlock()

	stdout := c.installer.Install(ctx, name)
	ok := false
	for _, line := range strings.Split(stdout, "\n") {
		if strings.Contains(line, "Successfully installed") && strings.Contains(line, name) {
			ok = true
			break
		}
	}

	c.logger.Info("dependency install", zap.String("module", name), zap.Bool("installed", ok))
	if c.recorder != nil {
		c.recorder.Event(db.EventDependencyInstall, map[string]any{"module": name, "installed": ok})
	}
	return ok
}
