package toolpool

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ImportStatus is the outcome of probing one module.
type ImportStatus int

const (
	// ImportOK means the module imported cleanly.
	ImportOK ImportStatus = iota
	// ImportBroken means a missing module, import error or syntax error.
	// Broken modules are quarantined.
	ImportBroken
	// ImportSkipped means the probe failed some other way. The module is
	// left in place and retried on the next refresh.
	ImportSkipped
)

// ImportResult carries the probe outcome and error text.
type ImportResult struct {
	Status ImportStatus
	Err    string
}

// Importer checks that a dotted module name imports.
type Importer interface {
	Import(ctx context.Context, module string) ImportResult
}

const (
	exitBroken = 3
	exitOther  = 4
)

const probeScript = `import importlib, sys
try:
    importlib.import_module(sys.argv[1])
except (ModuleNotFoundError, ImportError, SyntaxError) as e:
    sys.stderr.write(str(e))
    sys.exit(3)
except BaseException as e:
    sys.stderr.write("%s: %s" % (type(e).__name__, e))
    sys.exit(4)
`

// PythonImporter probes modules in a fresh interpreter started in Dir, the
// directory that contains the pool package.
type PythonImporter struct {
	Python  string
	Dir     string
	Timeout time.Duration
}

// Import runs the probe. Each call is a new process, so no module cache
// survives between refreshes.
func (p PythonImporter) Import(ctx context.Context, module string) ImportResult {
	python := p.Python
	if python == "" {
		python = "python3"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, python, "-c", probeScript, module)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1", "PYTHONPATH="+p.Dir)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	text := strings.TrimSpace(stderr.String())
	if err == nil {
		return ImportResult{Status: ImportOK}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == exitBroken {
		return ImportResult{Status: ImportBroken, Err: text}
	}
	if text == "" {
		text = err.Error()
	}
	return ImportResult{Status: ImportSkipped, Err: text}
}
