package dispatch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/agent0/internal/action"
	"github.com/stupiduntilnot/agent0/internal/classify"
	"github.com/stupiduntilnot/agent0/internal/runner"
	"github.com/stupiduntilnot/agent0/internal/selfsrc"
)

type call struct {
	kind runner.Kind
	body string
	argv []string
	env  []string
	opts runner.Options
}

type fakeRunner struct {
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, kind runner.Kind, body string, opts runner.Options) runner.Result {
	f.calls = append(f.calls, call{kind: kind, body: body, opts: opts})
	return runner.Result{Kind: kind, Stdout: runner.Ptr("ran " + string(kind))}
}

func (f *fakeRunner) RunCommand(_ context.Context, kind runner.Kind, argv []string, env []string, opts runner.Options) runner.Result {
	f.calls = append(f.calls, call{kind: kind, argv: argv, env: env, opts: opts})
	return runner.Result{Kind: kind, Stdout: runner.Ptr("child done")}
}

type fakeRegistry struct {
	refreshes int
	imports   []string
	bad       map[string]string
}

func (f *fakeRegistry) Refresh(context.Context) ([]string, map[string]string) {
	f.refreshes++
	return f.imports, f.bad
}

type fakeRecorder struct {
	events []string
}

func (f *fakeRecorder) Event(eventType string, _ map[string]any) int64 {
	f.events = append(f.events, eventType)
	return int64(len(f.events))
}

func newDispatcher(t *testing.T, r *fakeRunner, reg *fakeRegistry) *Dispatcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.go")
	require.NoError(t, os.WriteFile(path, []byte("package agent\n"), 0o644))
	return New(Options{
		Generation:  2,
		RunID:       "run-1",
		Runner:      r,
		Registry:    reg,
		Source:      selfsrc.New(path),
		RestartArgv: []string{"agent0", "run"},
		Logger:      zaptest.NewLogger(t),
	})
}

func TestDispatch_ExitShortCircuits(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r, &fakeRegistry{})

	out := d.Dispatch(context.Background(), []action.Action{
		{Kind: action.KindPython, Code: "print(1)"},
		{Kind: action.KindExit},
		{Kind: action.KindBash, Code: "echo never"},
	}, 4)

	assert.True(t, out.Exited)
	require.Len(t, out.Results, 1)
	assert.Equal(t, runner.KindPython, out.Results[0].Kind)
	assert.Equal(t, 4, out.Results[0].Iteration)
	assert.Equal(t, 2, out.Results[0].Generation)
	require.Len(t, r.calls, 1, "bash must not run after exit")

	opts := r.calls[0].opts
	assert.True(t, opts.Classify)
	assert.True(t, opts.CanRetry)
	assert.Equal(t, ActionLimit, opts.Limit)
}

func TestDispatch_UserDoesNotRun(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r, &fakeRegistry{})

	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindUser, Code: "what next?"}}, 1)

	require.Len(t, out.Results, 1)
	assert.Equal(t, "what next?", out.Results[0].StdoutText())
	assert.Equal(t, runner.Kind("user"), out.Results[0].Kind)
	assert.Empty(t, r.calls)
}

func TestDispatch_ReviewPrompts(t *testing.T) {
	d := newDispatcher(t, &fakeRunner{}, &fakeRegistry{imports: []string{"#Say hi.\nfrom python_tools.greet import greet"}})

	first := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindReview}}, 0)
	require.Len(t, first.Results, 1)
	stdout := first.Results[0].StdoutText()
	assert.Contains(t, stdout, "the user is having you run.\n```go\npackage agent\n```")
	assert.Contains(t, first.SystemPrompt, planPrompt)
	assert.NotContains(t, first.SystemPrompt, reviewPrompt)
	assert.Contains(t, first.SystemPrompt, "from python_tools.greet import greet")
	assert.True(t, strings.HasPrefix(first.SystemPrompt, d.BasePrompt()))

	later := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindReview}}, 3)
	assert.Contains(t, later.SystemPrompt, reviewPrompt)
	assert.NotContains(t, later.SystemPrompt, planPrompt)
}

func TestDispatch_PromptFollowsLastAction(t *testing.T) {
	d := newDispatcher(t, &fakeRunner{}, &fakeRegistry{})

	out := d.Dispatch(context.Background(), []action.Action{
		{Kind: action.KindPython, Code: "print(1)"},
		{Kind: action.KindBash, Code: "ls"},
	}, 1)
	assert.NotContains(t, out.SystemPrompt, pythonNudge)

	out = d.Dispatch(context.Background(), []action.Action{{Kind: action.KindPatch, Code: "--- a\n+++ b\n"}}, 1)
	assert.Contains(t, out.SystemPrompt, restartPrompt)
}

func TestDispatch_RefreshesBeforeEachAction(t *testing.T) {
	reg := &fakeRegistry{}
	d := newDispatcher(t, &fakeRunner{}, reg)

	d.Dispatch(context.Background(), []action.Action{
		{Kind: action.KindBash, Code: "ls"},
		{Kind: action.KindBash, Code: "pwd"},
	}, 1)
	assert.Equal(t, 2, reg.refreshes)
}

func TestDispatch_PythonToolsAppendsQuarantine(t *testing.T) {
	reg := &fakeRegistry{bad: map[string]string{"python_tools/broken.py": "ModuleNotFoundError: No module named 'nope'"}}
	d := newDispatcher(t, &fakeRunner{}, reg)

	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindPythonTools, Code: "def f(): pass"}}, 1)

	require.Len(t, out.Results, 1)
	assert.Contains(t, out.Results[0].StderrText(), `"python_tools/broken.py": "ModuleNotFoundError: No module named 'nope'"`)
	// One refresh for the prompt, one after the submission.
	assert.Equal(t, 2, reg.refreshes)
}

func TestDispatch_RestartPassesNextGeneration(t *testing.T) {
	r := &fakeRunner{}
	rec := &fakeRecorder{}
	d := newDispatcher(t, r, &fakeRegistry{})
	d.opts.Recorder = rec

	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindRestart}}, 5)

	require.Len(t, out.Results, 1)
	require.Len(t, r.calls, 1)
	c := r.calls[0]
	assert.Equal(t, runner.KindRestart, c.kind)
	assert.Equal(t, []string{"agent0", "run"}, c.argv)
	assert.Contains(t, c.env, "AGENT0_ID=3")
	assert.Contains(t, c.env, "AGENT0_RUN_ID=run-1")
	assert.Contains(t, c.env, "AGENT0_PARENT_EVENT_ID=2")
	assert.Equal(t, []string{"action.started", "generation.spawned", "generation.exited", "action.completed"}, rec.events)
}

func TestDispatch_EmptyActions(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r, &fakeRegistry{})

	out := d.Dispatch(context.Background(), nil, 7)

	require.Len(t, out.Results, 1)
	res := out.Results[0]
	assert.Equal(t, NoActionsMessage, res.StderrText())
	assert.Empty(t, res.Kind)
	assert.Nil(t, res.Stdout)
	assert.Equal(t, 7, res.Iteration)
	assert.Equal(t, d.BasePrompt(), out.SystemPrompt)
	assert.False(t, out.Exited)
	assert.Empty(t, r.calls)
}

func TestDispatch_UnknownSkipped(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r, &fakeRegistry{})

	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindUnknown, Tag: "js", Code: "1"}}, 1)
	assert.Empty(t, out.Results)
	assert.Empty(t, r.calls)
}

func TestDispatch_ReviewWithoutSource(t *testing.T) {
	d := New(Options{Runner: &fakeRunner{}})
	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindReview}}, 0)
	require.Len(t, out.Results, 1)
	assert.NotEmpty(t, out.Results[0].ExceptionText())
}

func TestCatalogueCoversEveryKind(t *testing.T) {
	c := Catalogue("agent.go", 1, 1000)
	for _, k := range action.Kinds {
		assert.Contains(t, c[k], string(k), "missing %s", k)
	}
	assert.Contains(t, c[action.KindPatch], "-p1 -F 1000")
}

func TestNew_ThreadsPatchFuzzAndOutputLimit(t *testing.T) {
	r := &fakeRunner{}
	d := New(Options{Runner: r, PatchStrip: 2, PatchFuzz: 3, OutputLimit: 40})

	assert.Contains(t, d.BasePrompt(), "`patch -u -p2 -F 3 --batch`")
	assert.NotContains(t, d.BasePrompt(), "-F 1000")
	out := d.Dispatch(context.Background(), []action.Action{{Kind: action.KindBash, Code: "ls"}}, 1)
	assert.Contains(t, out.SystemPrompt, "patch -u -p2 -F 3 --batch")

	require.Len(t, r.calls, 1)
	assert.Equal(t, 40, r.calls[0].opts.Limit)
}

func TestDispatch_ClassifiesEveryScriptKind(t *testing.T) {
	r := &fakeRunner{}
	d := newDispatcher(t, r, &fakeRegistry{})

	d.Dispatch(context.Background(), []action.Action{
		{Kind: action.KindBash, Code: "ls"},
		{Kind: action.KindPatch, Code: "--- a\n+++ b\n"},
		{Kind: action.KindPython, Code: "print(1)"},
		{Kind: action.KindPythonTools, Code: "def f(): pass"},
	}, 1)

	require.Len(t, r.calls, 4)
	for _, c := range r.calls {
		assert.True(t, c.opts.Classify, "%s stderr must be classified", c.kind)
	}
	assert.False(t, r.calls[0].opts.CanRetry)
	assert.False(t, r.calls[1].opts.CanRetry)
	assert.True(t, r.calls[2].opts.CanRetry)
	assert.True(t, r.calls[3].opts.CanRetry)
}

func TestDispatch_BashFileNotFoundGetsSuggestion(t *testing.T) {
	for _, bin := range []string{"bash", "python3"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "images", "h2oGPT-light.pdf"), []byte("%PDF"), 0o644))

	logger := zaptest.NewLogger(t)
	r := runner.New(runner.Config{Workdir: workdir, Logger: logger})
	r.SetClassifier(classify.New(classify.Config{Dir: workdir, Logger: logger}))
	d := New(Options{Runner: r, Logger: logger})

	out := d.Dispatch(context.Background(), []action.Action{{
		Kind: action.KindBash,
		Code: `python3 -c "open('images/h2oGPT-light.png')"`,
	}}, 1)

	require.Len(t, out.Results, 1)
	stderr := out.Results[0].StderrText()
	assert.Contains(t, stderr, "FileNotFoundError")
	assert.Contains(t, stderr, "Did you mean instead: 'images/h2oGPT-light.pdf'?")
}
