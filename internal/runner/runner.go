// Package runner executes script bodies in child processes.
//
// Every run spawns a subprocess and blocks until it exits. Nothing a child
// does can make Run fail: spawn problems are reported in Result.Exception and
// everything else is captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/selfsrc"
)

// Kind selects how a body is executed.
type Kind string

const (
	KindPython      Kind = "python"
	KindPythonTools Kind = "python_tools"
	KindBash        Kind = "bash"
	KindPatch       Kind = "patch"
	KindRestart     Kind = "restart"
)

// Options tune one run.
type Options struct {
	// Limit bounds stdout and stderr in runes. 0 selects DefaultLimit.
	Limit int
	// Classify passes stderr through the configured classifier.
	Classify bool
	// CanRetry allows one re-run when the classifier asks for it.
	CanRetry bool
	// Timeout kills the child after the duration. 0 waits forever.
	Timeout time.Duration
}

// Classifier annotates stderr and reports whether a retry may succeed.
type Classifier interface {
	Classify(ctx context.Context, stderr string) (string, bool)
}

// RevisionRecorder is told about every source swap.
type RevisionRecorder interface {
	SourcePatched(path string, base, next selfsrc.Snapshot, generation int)
}

// Config configures a Runner.
type Config struct {
	Workdir    string
	Pool       string
	Python     string
	Bash       string
	Patch      string
	PatchStrip int
	PatchFuzz  int
	Generation int
	Source     *selfsrc.Source
	Revisions  RevisionRecorder
	Logger     *zap.Logger
}

// Runner runs bodies for one generation.
type Runner struct {
	workdir    string
	pool       string
	python     string
	bash       string
	patch      string
	patchStrip int
	patchFuzz  int
	generation int
	source     *selfsrc.Source
	revisions  RevisionRecorder
	classifier Classifier
	logger     *zap.Logger
}

// New returns a Runner with defaults filled in.
func New(cfg Config) *Runner {
	r := &Runner{
		workdir:    cfg.Workdir,
		pool:       cfg.Pool,
		python:     cfg.Python,
		bash:       cfg.Bash,
		patch:      cfg.Patch,
		patchStrip: cfg.PatchStrip,
		patchFuzz:  cfg.PatchFuzz,
		generation: cfg.Generation,
		source:     cfg.Source,
		revisions:  cfg.Revisions,
		logger:     cfg.Logger,
	}
	if r.workdir == "" {
		r.workdir = "."
	}
	if r.pool == "" {
		r.pool = "python_tools"
	}
	if r.python == "" {
		r.python = "python3"
	}
	if r.bash == "" {
		r.bash = "bash"
	}
	if r.patch == "" {
		r.patch = "patch"
	}
	if r.patchFuzz <= 0 {
		r.patchFuzz = 1000
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("runner")
	return r
}

// SetClassifier installs the stderr classifier. The classifier usually
// installs packages through this same runner, hence the setter.
func (r *Runner) SetClassifier(c Classifier) { r.classifier = c }

// Generation reports the generation this runner labels results with.
func (r *Runner) Generation() int { return r.generation }

// Run writes body to a scratch file for kind and executes it.
func (r *Runner) Run(ctx context.Context, kind Kind, body string, opts Options) Result {
	if kind == KindPatch {
		return r.runPatch(ctx, body, opts)
	}
	argv, err := r.prepare(kind, body)
	if err != nil {
		return r.failed(kind, err)
	}
	return r.execute(ctx, kind, argv, r.pythonEnv(kind), opts)
}

// RunCommand executes argv directly with extra environment entries.
func (r *Runner) RunCommand(ctx context.Context, kind Kind, argv []string, env []string, opts Options) Result {
	if len(argv) == 0 {
		return r.failed(kind, errors.New("empty command"))
	}
	return r.execute(ctx, kind, argv, env, opts)
}

func (r *Runner) execute(ctx context.Context, kind Kind, argv, env []string, opts Options) Result {
	res, _ := r.spawn(ctx, kind, argv, env, opts)
	if !opts.Classify || r.classifier == nil || res.Stderr == nil {
		return res
	}
	annotated, again := r.classifier.Classify(ctx, *res.Stderr)
	res.Stderr = &annotated
	if again && opts.CanRetry {
		r.logger.Info("retrying after classifier remedy", zap.String("kind", string(kind)))
		retry := opts
		retry.CanRetry = false
		return r.execute(ctx, kind, argv, env, retry)
	}
	return res
}

// spawn runs argv to completion and reports its exit code (-1 when it never
// ran or was killed by a signal).
func (r *Runner) spawn(ctx context.Context, kind Kind, argv, env []string, opts Options) (Result, int) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.workdir
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	exitCode := 0
	ran := true

	res := Result{Generation: r.generation, Kind: kind}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Exception = Ptr(fmt.Sprintf("%s: %v", argv[0], ctxErr))
		}
	default:
		exitCode = -1
		ran = false
		res.Exception = Ptr(runErr.Error())
	}
	if ran {
		res.Stdout = Ptr(Truncate(stdout.String(), opts.Limit))
		res.Stderr = Ptr(Truncate(stderr.String(), opts.Limit))
	}

	r.logger.Debug("process exited",
		zap.String("kind", string(kind)),
		zap.String("program", argv[0]),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("generation", r.generation),
	)
	return res, exitCode
}

// prepare writes body where kind expects it and returns the argv to run.
func (r *Runner) prepare(kind Kind, body string) ([]string, error) {
	var rel string
	var program string
	switch kind {
	case KindPython:
		rel = filepath.Join("scripts", string(kind), RandomModuleName(8)+".py")
		program = r.python
	case KindPythonTools:
		rel = filepath.Join(r.pool, RandomModuleName(8)+".py")
		program = r.python
	case KindBash:
		rel = filepath.Join("scripts", string(kind), uuid.NewString()+".sh")
		program = r.bash
	default:
		return []string{r.python, "-c", body}, nil
	}
	if err := r.writeFile(rel, body); err != nil {
		return nil, err
	}
	return []string{program, rel}, nil
}

func (r *Runner) writeFile(rel, body string) error {
	path := filepath.Join(r.workdir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	return nil
}

// pythonEnv puts the workdir on the import path so tools resolve as a package.
func (r *Runner) pythonEnv(kind Kind) []string {
	if kind == KindBash {
		return nil
	}
	dir, err := filepath.Abs(r.workdir)
	if err != nil {
		return nil
	}
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		dir += string(os.PathListSeparator) + existing
	}
	return []string{"PYTHONPATH=" + dir}
}

func (r *Runner) runPatch(ctx context.Context, body string, opts Options) Result {
	if r.source == nil {
		return r.failed(KindPatch, errors.New("no source file configured for patch"))
	}
	rel := filepath.Join("patches", uuid.NewString()+".diff")
	if err := r.writeFile(rel, body); err != nil {
		return r.failed(KindPatch, err)
	}

	candidate, base, err := r.source.Candidate()
	if err != nil {
		return r.failed(KindPatch, err)
	}
	argv := []string{
		r.patch, "-u",
		"-p" + strconv.Itoa(r.patchStrip),
		"-F", strconv.Itoa(r.patchFuzz),
		"--batch",
		"-i", absOrSelf(filepath.Join(r.workdir, rel)),
		absOrSelf(candidate),
	}
	res, exitCode := r.spawn(ctx, KindPatch, argv, nil, opts)
	if res.Stdout != nil {
		res.Stdout = Ptr(strings.ReplaceAll(*res.Stdout, absOrSelf(candidate), r.source.Path))
	}
	if exitCode != 0 || res.Exception != nil {
		selfsrc.Discard(candidate)
		return res
	}

	next, err := r.source.Swap(candidate, base)
	switch {
	case errors.Is(err, selfsrc.ErrNoChange):
		res.Stderr = Ptr(appendLine(res.StderrText(), "patch applied but source is unchanged"))
	case err != nil:
		res.Stderr = Ptr(appendLine(res.StderrText(), err.Error()))
	default:
		r.logger.Info("source patched",
			zap.String("path", r.source.Path),
			zap.String("base_digest", base.Digest),
			zap.String("digest", next.Digest),
		)
		if r.revisions != nil {
			r.revisions.SourcePatched(r.source.Path, base, next, r.generation)
		}
	}
	return res
}

func (r *Runner) failed(kind Kind, err error) Result {
	r.logger.Warn("run failed before spawn", zap.String("kind", string(kind)), zap.Error(err))
	return Result{Generation: r.generation, Kind: kind, Exception: Ptr(err.Error())}
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return strings.TrimRight(s, "\n") + "\n" + line
}

const (
	firstChars = "abcdefghijklmnopqrstuvwxyz"
	restChars  = "abcdefghijklmnopqrstuvwxyz0123456789_"
)

// RandomModuleName returns a valid Python module name of the given length.
func RandomModuleName(length int) string {
	if length <= 0 {
		length = 8
	}
	b := make([]byte, length)
	b[0] = firstChars[rand.IntN(len(firstChars))]
	for i := 1; i < length; i++ {
		b[i] = restChars[rand.IntN(len(restChars))]
	}
	return string(b)
}
