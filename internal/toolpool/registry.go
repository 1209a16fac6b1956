// Package toolpool promotes Python scripts into an importable tool package.
//
// A refresh probes every module in the pool, quarantines the ones that fail
// to import, renames the rest after their primary symbol and returns ready
// to paste import lines.
package toolpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/db"
)

const (
	initFile = "__init__.py"
	deadDir  = "dead"
)

// Tool is one promoted symbol.
type Tool struct {
	Path   string
	Module string
	Symbol string
	Doc    string
	Stub   string
	Import string
}

// Recorder receives registry events.
type Recorder interface {
	Event(eventType string, payload map[string]any) int64
	Quarantined(path, deadPath, errText string)
}

// Config configures a Registry.
type Config struct {
	// Workdir holds the pool directory.
	Workdir  string
	Pool     string
	Importer Importer
	Recorder Recorder
	Logger   *zap.Logger
}

type cacheEntry struct {
	size    int64
	modTime time.Time
	symbols []Symbol
}

// Registry scans one pool directory. Refresh calls are serialized.
type Registry struct {
	workdir  string
	pool     string
	importer Importer
	recorder Recorder
	logger   *zap.Logger

	mu     sync.Mutex
	parser *symbolParser
	cache  map[string]cacheEntry
	tools  []Tool
}

// New returns a Registry. A nil Importer probes with python3 from Workdir.
func New(cfg Config) *Registry {
	workdir := cfg.Workdir
	if workdir == "" {
		workdir = "."
	}
	pool := cfg.Pool
	if pool == "" {
		pool = "python_tools"
	}
	importer := cfg.Importer
	if importer == nil {
		importer = PythonImporter{Dir: workdir}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		workdir:  workdir,
		pool:     pool,
		importer: importer,
		recorder: cfg.Recorder,
		logger:   logger.Named("toolpool"),
		parser:   newSymbolParser(),
		cache:    make(map[string]cacheEntry),
	}
}

// Dir is the pool directory on disk.
func (r *Registry) Dir() string { return filepath.Join(r.workdir, r.pool) }

// Tools returns the tools found by the last refresh.
func (r *Registry) Tools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Refresh rescans the pool. It returns import lines ordered by module then
// declaration, and the modules quarantined by this call keyed by their
// pool-relative path.
func (r *Registry) Refresh(ctx context.Context) ([]string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	quarantined := make(map[string]string)
	if err := r.ensurePackage(); err != nil {
		r.logger.Warn("prepare pool failed", zap.String("pool", r.Dir()), zap.Error(err))
		return nil, quarantined
	}
	r.invalidate()

	files, err := r.moduleFiles()
	if err != nil {
		r.logger.Warn("list pool failed", zap.String("pool", r.Dir()), zap.Error(err))
		return nil, quarantined
	}

	var tools []Tool
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		module := strings.TrimSuffix(file, ".py")
		res := r.importer.Import(ctx, r.pool+"."+module)
		switch res.Status {
		case ImportBroken:
			key := filepath.Join(r.pool, file)
			quarantined[key] = res.Err
			if err := r.quarantine(file, res.Err); err != nil {
				// Still in the pool, so the next refresh probes it again.
				quarantined[key] = res.Err + "\n(not quarantined, left in pool: " + err.Error() + ")"
			}
			continue
		case ImportSkipped:
			r.logger.Info("module skipped", zap.String("module", module), zap.String("error", res.Err))
			continue
		}

		symbols, err := r.symbols(ctx, filepath.Join(r.Dir(), file))
		if err != nil {
			r.logger.Warn("symbol scan failed", zap.String("module", module), zap.Error(err))
			continue
		}
		if len(symbols) == 0 {
			continue
		}
		module = r.canonicalize(module, symbols[0].Name)
		for _, s := range symbols {
			tools = append(tools, Tool{
				Path:   filepath.Join(r.Dir(), module+".py"),
				Module: module,
				Symbol: s.Name,
				Doc:    s.Doc,
				Stub:   s.Stub,
				Import: importLine(r.pool, module, s),
			})
		}
	}

	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Module < tools[j].Module })
	r.tools = tools

	lines := make([]string, len(tools))
	for i, t := range tools {
		lines[i] = t.Import
	}
	return lines, quarantined
}

func importLine(pool, module string, s Symbol) string {
	line := fmt.Sprintf("from %s.%s import %s", pool, module, s.Name)
	if s.Doc == "" {
		return line
	}
	return "#" + s.Doc + "\n" + line
}

func (r *Registry) ensurePackage() error {
	if err := os.MkdirAll(r.Dir(), 0o755); err != nil {
		return err
	}
	marker := filepath.Join(r.Dir(), initFile)
	if _, err := os.Stat(marker); errors.Is(err, os.ErrNotExist) {
		return os.WriteFile(marker, nil, 0o644)
	} else if err != nil {
		return err
	}
	return nil
}

// invalidate drops cached parses whose file vanished or changed.
func (r *Registry) invalidate() {
	for path, entry := range r.cache {
		info, err := os.Stat(path)
		if err != nil || info.Size() != entry.size || !info.ModTime().Equal(entry.modTime) {
			delete(r.cache, path)
		}
	}
}

func (r *Registry) moduleFiles() ([]string, error) {
	entries, err := os.ReadDir(r.Dir())
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == initFile || !strings.HasSuffix(name, ".py") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func (r *Registry) symbols(ctx context.Context, path string) ([]Symbol, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if entry, ok := r.cache[path]; ok {
		return entry.symbols, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	symbols, err := r.parser.Parse(ctx, content)
	if err != nil {
		return nil, err
	}
	r.cache[path] = cacheEntry{size: info.Size(), modTime: info.ModTime(), symbols: symbols}
	return symbols, nil
}

// canonicalize renames module after symbol unless that name is taken, and
// returns the module's final name.
func (r *Registry) canonicalize(module, symbol string) string {
	target := ToModuleName(symbol)
	if target == module {
		return module
	}
	oldPath := filepath.Join(r.Dir(), module+".py")
	newPath := filepath.Join(r.Dir(), target+".py")
	if _, err := os.Stat(newPath); err == nil {
		return module
	}

	lock := flock.New(oldPath + ".lock")
	if err := lock.Lock(); err != nil {
		r.logger.Warn("rename lock failed", zap.String("path", oldPath), zap.Error(err))
		return module
	}
	renamed := r.rename(oldPath, newPath)
	_ = lock.Unlock()
	_ = os.Remove(oldPath + ".lock")

	if !renamed {
		return module
	}
	if entry, ok := r.cache[oldPath]; ok {
		delete(r.cache, oldPath)
		r.cache[newPath] = entry
	}
	r.logger.Info("tool renamed", zap.String("from", module), zap.String("to", target))
	if r.recorder != nil {
		r.recorder.Event(db.EventToolRenamed, map[string]any{"from": oldPath, "to": newPath, "symbol": symbol})
	}
	return target
}

// rename moves oldPath to newPath without ever replacing an existing file.
func (r *Registry) rename(oldPath, newPath string) bool {
	if _, err := os.Stat(oldPath); err != nil {
		return false
	}
	if err := os.Link(oldPath, newPath); err != nil {
		if !errors.Is(err, os.ErrExist) {
			r.logger.Warn("rename failed", zap.String("from", oldPath), zap.String("to", newPath), zap.Error(err))
		}
		return false
	}
	if err := os.Remove(oldPath); err != nil {
		_ = os.Remove(newPath)
		r.logger.Warn("rename cleanup failed", zap.String("path", oldPath), zap.Error(err))
		return false
	}
	return true
}

// quarantine moves a broken module into dead/. On error the module stays
// where it was.
func (r *Registry) quarantine(file, errText string) error {
	src := filepath.Join(r.Dir(), file)
	dir := filepath.Join(r.Dir(), deadDir)
	dst := filepath.Join(dir, file)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("create quarantine dir failed", zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(dir, strings.TrimSuffix(file, ".py")+"-"+uuid.NewString()[:8]+".py")
	}
	if err := os.Rename(src, dst); err != nil {
		r.logger.Warn("quarantine move failed", zap.String("path", src), zap.Error(err))
		return fmt.Errorf("move to quarantine: %w", err)
	}
	delete(r.cache, src)

	r.logger.Warn("tool quarantined", zap.String("path", src), zap.String("dead_path", dst), zap.String("error", errText))
	if r.recorder != nil {
		r.recorder.Quarantined(src, dst, errText)
	}
	return nil
}
