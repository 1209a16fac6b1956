// Package dispatch runs the actions of one model reply.
//
// This file is the agent's own source by default: a review shows it to the
// model and a patch rewrites it, so new verbs are added here.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/action"
	"github.com/stupiduntilnot/agent0/internal/db"
	"github.com/stupiduntilnot/agent0/internal/runner"
	"github.com/stupiduntilnot/agent0/internal/selfsrc"
)

// ActionLimit bounds stdout and stderr of scripts the model submits when
// Options.OutputLimit is unset.
const ActionLimit = 1000

// DefaultPatchFuzz is the fuzz factor handed to patch when none is set.
const DefaultPatchFuzz = 1000

// Runner executes bodies and commands. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, kind runner.Kind, body string, opts runner.Options) runner.Result
	RunCommand(ctx context.Context, kind runner.Kind, argv []string, env []string, opts runner.Options) runner.Result
}

// Registry lists promoted tools. *toolpool.Registry satisfies it.
type Registry interface {
	Refresh(ctx context.Context) ([]string, map[string]string)
}

// Recorder persists dispatch events. *db.Recorder satisfies it.
type Recorder interface {
	Event(eventType string, payload map[string]any) int64
}

// Options configures a Dispatcher.
type Options struct {
	Generation    int
	RunID         string
	Runner        Runner
	Registry      Registry
	Source        *selfsrc.Source
	BasePrompt    string
	PatchStrip    int
	PatchFuzz     int
	OutputLimit   int
	RestartArgv   []string
	ScriptTimeout time.Duration
	Recorder      Recorder
	Logger        *zap.Logger
}

// Outcome is what one dispatch produced.
type Outcome struct {
	Results      []runner.Result
	SystemPrompt string
	Exited       bool
}

// Dispatcher maps actions to runs for one generation.
type Dispatcher struct {
	opts      Options
	catalogue string
	logger    *zap.Logger
}

// New returns a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.PatchStrip <= 0 {
		opts.PatchStrip = 1
	}
	if opts.PatchFuzz <= 0 {
		opts.PatchFuzz = DefaultPatchFuzz
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = ActionLimit
	}
	if opts.BasePrompt == "" {
		opts.BasePrompt = BasePrompt(opts.sourcePath(), opts.PatchStrip, opts.PatchFuzz)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		opts:      opts,
		catalogue: renderCatalogue(Catalogue(opts.sourcePath(), opts.PatchStrip, opts.PatchFuzz)),
		logger:    logger.Named("dispatch"),
	}
}

func (o Options) sourcePath() string {
	if o.Source == nil {
		return ""
	}
	return o.Source.Path
}

// BasePrompt returns the standing system prompt.
func (d *Dispatcher) BasePrompt() string { return d.opts.BasePrompt }

// Dispatch runs actions in order. An exit action stops the turn at once;
// unknown kinds are skipped. The returned system prompt reflects the last
// action run.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []action.Action, iteration int) Outcome {
	if len(actions) == 0 {
		d.record(db.EventNoActions, map[string]any{"iteration": iteration})
		return Outcome{
			Results: []runner.Result{{
				Generation: d.opts.Generation,
				Iteration:  iteration,
				Stderr:     runner.Ptr(NoActionsMessage),
			}},
			SystemPrompt: d.opts.BasePrompt,
		}
	}

	out := Outcome{SystemPrompt: d.opts.BasePrompt}
	for _, a := range actions {
		if a.Kind == action.KindExit {
			d.logger.Info("exit requested", zap.Int("iteration", iteration))
			out.Exited = true
			return out
		}

		finish := finishText(d.catalogue, d.tools(ctx))
		prompt := d.opts.BasePrompt + finish

		d.record(db.EventActionStarted, map[string]any{"iteration": iteration, "kind": string(a.Kind)})
		res, handled := d.run(ctx, a, iteration, &prompt)
		out.SystemPrompt = prompt
		if !handled {
			d.logger.Debug("skipping unknown action", zap.String("tag", a.Tag))
			continue
		}
		res.Iteration = iteration
		res.Generation = d.opts.Generation
		out.Results = append(out.Results, res)
		d.record(db.EventActionCompleted, map[string]any{
			"iteration": iteration,
			"kind":      string(a.Kind),
			"exception": res.ExceptionText(),
		})
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, a action.Action, iteration int, prompt *string) (runner.Result, bool) {
	// Every script's stderr is classified; only python kinds may re-run.
	scriptOpts := runner.Options{Limit: d.opts.OutputLimit, Timeout: d.opts.ScriptTimeout, Classify: true}
	switch a.Kind {
	case action.KindUser:
		return runner.Result{Kind: runner.Kind(a.Kind), Stdout: runner.Ptr(a.Code)}, true
	case action.KindReview:
		res := d.review()
		if iteration == 0 {
			*prompt += "\n\n" + planPrompt
		} else {
			*prompt += "\n\n" + reviewPrompt
		}
		return res, true
	case action.KindBash:
		return d.opts.Runner.Run(ctx, runner.KindBash, a.Code, scriptOpts), true
	case action.KindPython:
		scriptOpts.CanRetry = true
		res := d.opts.Runner.Run(ctx, runner.KindPython, a.Code, scriptOpts)
		*prompt += "\n\n" + pythonNudge
		return res, true
	case action.KindPythonTools:
		scriptOpts.CanRetry = true
		res := d.opts.Runner.Run(ctx, runner.KindPythonTools, a.Code, scriptOpts)
		if d.opts.Registry != nil {
			_, bad := d.opts.Registry.Refresh(ctx)
			if len(bad) > 0 {
				res.Stderr = runner.Ptr(res.StderrText() + prettyMap(bad))
			}
		}
		return res, true
	case action.KindPatch:
		res := d.opts.Runner.Run(ctx, runner.KindPatch, a.Code, scriptOpts)
		*prompt += "\n\n" + restartPrompt
		return res, true
	case action.KindRestart:
		return d.restart(ctx), true
	default:
		return runner.Result{}, false
	}
}

func (d *Dispatcher) review() runner.Result {
	res := runner.Result{Kind: runner.Kind(action.KindReview)}
	if d.opts.Source == nil {
		res.Exception = runner.Ptr("no agent source configured")
		return res
	}
	snap, err := d.opts.Source.Read()
	if err != nil {
		res.Exception = runner.Ptr(err.Error())
		return res
	}
	res.Stdout = runner.Ptr("The agent code " + d.opts.Source.Path + " the user is having you run.\n```go\n" + string(snap.Content) + "```")
	return res
}

// restart runs the next generation in the foreground. The child inherits the
// environment plus its generation id and the event it should nest under.
func (d *Dispatcher) restart(ctx context.Context) runner.Result {
	next := d.opts.Generation + 1
	spawnID := d.record(db.EventGenerationSpawned, map[string]any{
		"generation": next,
		"argv":       d.opts.RestartArgv,
	})
	env := []string{"AGENT0_ID=" + strconv.Itoa(next)}
	if d.opts.RunID != "" {
		env = append(env, "AGENT0_RUN_ID="+d.opts.RunID)
	}
	if spawnID > 0 {
		env = append(env, "AGENT0_PARENT_EVENT_ID="+strconv.FormatInt(spawnID, 10))
	}
	d.logger.Info("restarting", zap.Int("generation", next), zap.Strings("argv", d.opts.RestartArgv))
	res := d.opts.Runner.RunCommand(ctx, runner.KindRestart, d.opts.RestartArgv, env, runner.Options{})
	d.record(db.EventGenerationExited, map[string]any{
		"generation": next,
		"exception":  res.ExceptionText(),
	})
	return res
}

// tools refreshes the registry and returns the import lines for the prompt.
func (d *Dispatcher) tools(ctx context.Context) []string {
	if d.opts.Registry == nil {
		return nil
	}
	imports, bad := d.opts.Registry.Refresh(ctx)
	if len(bad) > 0 {
		d.logger.Warn("quarantined tool modules", zap.Any("modules", bad))
	}
	return imports
}

func (d *Dispatcher) record(eventType string, payload map[string]any) int64 {
	if d.opts.Recorder == nil {
		return 0
	}
	return d.opts.Recorder.Event(eventType, payload)
}

// prettyMap renders path -> error with sorted keys, one entry per line.
func prettyMap(m map[string]string) string {
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return ""
	}
	return string(b)
}
