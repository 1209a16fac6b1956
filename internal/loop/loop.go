// Package loop drives the agent: one model reply, one dispatch, repeat.
package loop

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/action"
	"github.com/stupiduntilnot/agent0/internal/control"
	"github.com/stupiduntilnot/agent0/internal/db"
	"github.com/stupiduntilnot/agent0/internal/dispatch"
	"github.com/stupiduntilnot/agent0/internal/model"
	"github.com/stupiduntilnot/agent0/internal/runner"
	"github.com/stupiduntilnot/agent0/internal/transcript"
)

const noProgressK = 3

const noProgressNudge = "Your last replies were identical. Choose a different action or a new task."

// Dispatcher runs the actions of one reply. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, actions []action.Action, iteration int) dispatch.Outcome
	BasePrompt() string
}

// Recorder persists loop events. *db.Recorder satisfies it.
type Recorder interface {
	Event(eventType string, payload map[string]any) int64
}

// Config wires a Loop.
type Config struct {
	Provider   model.Provider
	Dispatcher Dispatcher
	Policy     control.Policy
	Breaker    *control.CircuitBreaker
	MaxHistory int
	Recorder   Recorder
	Logger     *zap.Logger

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Summary describes a finished run. Results holds the outputs of the actions
// that ran before an exit in the final turn.
type Summary struct {
	Turns   int
	Usage   transcript.Usage
	Exited  bool
	Results []runner.Result
}

// Loop owns the transcript for one generation.
type Loop struct {
	cfg    Config
	logger *zap.Logger
	tr     *transcript.Transcript
	fps    []string
}

// New returns a Loop. Provider and Dispatcher are required.
func New(cfg Config) *Loop {
	if cfg.Breaker == nil {
		cfg.Breaker = control.NewCircuitBreaker(5, 30*time.Second)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:    cfg,
		logger: logger.Named("loop"),
		tr:     transcript.New(cfg.Dispatcher.BasePrompt(), transcript.WindowCompressor{MaxMessages: cfg.MaxHistory}),
	}
}

// Transcript exposes the conversation so far.
func (l *Loop) Transcript() *transcript.Transcript { return l.tr }

// Run loops until the model exits, a limit is reached (returned as
// *control.LimitError) or ctx is done.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	startedAt := l.cfg.Now()
	var sum Summary
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.finish(sum), err
		}
		if err := l.checkLimits(iteration, startedAt); err != nil {
			l.recordLimit(err)
			return l.finish(sum), err
		}

		l.record(db.EventTurnStarted, map[string]any{"iteration": iteration})
		var (
			actions   []action.Action
			assistant string
		)
		if iteration == 0 {
			actions = []action.Action{{Kind: action.KindReview, Tag: string(action.KindReview)}}
		} else {
			resp, err := l.complete(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return l.finish(sum), ctx.Err()
				}
				l.logger.Warn("turn failed", zap.Int("iteration", iteration), zap.Error(err))
				l.record(db.EventTurnFailed, map[string]any{
					"iteration":   iteration,
					"error":       err.Error(),
					"error_class": control.ClassifyError(err),
				})
				sum.Turns++
				continue
			}
			assistant = resp.Content
			actions = action.Extract(assistant)
		}

		out := l.cfg.Dispatcher.Dispatch(ctx, actions, iteration)
		sum.Turns++
		user := transcript.UserContent(out.Results, runner.Kind(action.KindUser))
		if out.Exited {
			l.completeTurn(iteration, len(actions), assistant, user, true)
			l.record(db.EventLoopExited, map[string]any{"iteration": iteration})
			l.logger.Info("model chose to exit", zap.Int("iteration", iteration))
			sum.Exited = true
			sum.Results = out.Results
			return l.finish(sum), nil
		}

		l.tr.SetSystem(out.SystemPrompt)
		if assistant != "" && l.stalled(assistant) {
			l.logger.Warn("no progress", zap.Int("iteration", iteration), zap.Int("repeats", noProgressK))
			user = joinNonEmpty(user, noProgressNudge)
		}
		l.tr.Append(transcript.RoleAssistant, assistant)
		l.tr.Append(transcript.RoleUser, user)
		l.completeTurn(iteration, len(actions), assistant, user, false)
	}
}

// completeTurn logs and records one finished turn with its rendered outputs.
func (l *Loop) completeTurn(iteration, actions int, assistant, user string, exited bool) {
	usage := l.tr.Usage()
	l.logger.Info("turn completed",
		zap.Int("iteration", iteration),
		zap.Int("actions", actions),
		zap.Bool("exited", exited),
		zap.Int("prompt_tokens", usage.Prompt),
		zap.Int("completion_tokens", usage.Completion),
		zap.Int("total_tokens", usage.Total),
	)
	l.logger.Debug("turn content", zap.String("assistant", assistant), zap.String("user", user))
	l.record(db.EventTurnCompleted, map[string]any{
		"iteration": iteration,
		"actions":   actions,
		"assistant": assistant,
		"outputs":   user,
		"exited":    exited,
		"tokens":    map[string]any{"prompt": usage.Prompt, "completion": usage.Completion, "total": usage.Total},
	})
}

func (l *Loop) finish(sum Summary) Summary {
	sum.Usage = l.tr.Usage()
	return sum
}

func (l *Loop) checkLimits(iteration int, startedAt time.Time) error {
	if err := control.CheckTurnLimit(l.cfg.Policy, iteration); err != nil {
		return err
	}
	if err := control.CheckWallTime(l.cfg.Policy, startedAt, l.cfg.Now()); err != nil {
		return err
	}
	return control.CheckTokenLimit(l.cfg.Policy, l.tr.Usage().Total)
}

// complete asks the model for the next reply. Failures are retried with
// backoff while the policy allows, and an open breaker is waited out.
func (l *Loop) complete(ctx context.Context) (model.CompletionResponse, error) {
	breaker := l.cfg.Breaker
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := l.awaitBreaker(ctx); err != nil {
			return model.CompletionResponse{}, err
		}

		messages := l.tr.Messages()
		resp, err := l.cfg.Provider.ChatCompletion(ctx, messages)
		if err == nil {
			l.closeBreaker()
			prompt, completion, total := resp.InputTokens, resp.OutputTokens, resp.TotalTokens
			if prompt == 0 && completion == 0 && total == 0 {
				prompt, completion = estimateTokensFromMessages(messages), estimateTokens(resp.Content)
			}
			l.tr.Record(prompt, completion, total)
			return resp, nil
		}
		if ctx.Err() != nil {
			return model.CompletionResponse{}, ctx.Err()
		}

		lastErr = err
		errClass := control.ClassifyError(err)
		prev := breaker.State()
		breaker.RecordFailure(errClass, l.cfg.Now())
		if prev != control.CircuitOpen && breaker.State() == control.CircuitOpen {
			l.record(db.EventCircuitOpened, map[string]any{
				"error_class":      errClass,
				"threshold":        breaker.Threshold,
				"cooldown_seconds": int(breaker.Cooldown.Seconds()),
			})
		}
		if !control.ShouldRetry(l.cfg.Policy, attempt) {
			return model.CompletionResponse{}, fmt.Errorf("chat completion failed after %d attempts: %w", attempt, lastErr)
		}
		backoff := time.Duration(control.RetryBackoffSeconds(attempt)) * time.Second
		l.logger.Warn("chat completion failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("error_class", errClass),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := l.cfg.Sleep(ctx, backoff); err != nil {
			return model.CompletionResponse{}, err
		}
	}
}

func (l *Loop) awaitBreaker(ctx context.Context) error {
	breaker := l.cfg.Breaker
	for {
		prev := breaker.State()
		now := l.cfg.Now()
		if breaker.Allow(now) {
			if prev == control.CircuitOpen && breaker.State() == control.CircuitHalfOpen {
				l.record(db.EventCircuitHalfOpen, map[string]any{"error_class": breaker.OpenedClass()})
			}
			return nil
		}
		wait := breaker.Wait(now)
		l.logger.Warn("circuit open, waiting", zap.String("error_class", breaker.OpenedClass()), zap.Duration("wait", wait))
		if err := l.cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Loop) closeBreaker() {
	breaker := l.cfg.Breaker
	prev := breaker.State()
	breaker.RecordSuccess()
	if prev != control.CircuitClosed {
		l.record(db.EventCircuitClosed, map[string]any{"recovered": true})
	}
}

// stalled tracks reply fingerprints and reports k identical replies in a row.
func (l *Loop) stalled(reply string) bool {
	h := sha1.Sum([]byte(reply))
	l.fps = append(l.fps, hex.EncodeToString(h[:8]))
	if len(l.fps) > noProgressK {
		l.fps = l.fps[len(l.fps)-noProgressK:]
	}
	return control.NoProgress(l.fps, noProgressK)
}

func (l *Loop) recordLimit(err error) {
	var limitErr *control.LimitError
	if !errors.As(err, &limitErr) {
		return
	}
	l.logger.Info("limit reached",
		zap.String("limit_type", string(limitErr.Type)),
		zap.Int64("value", limitErr.Value),
		zap.Int64("threshold", limitErr.Threshold),
	)
	l.record(db.EventControlLimit, map[string]any{
		"limit_type": string(limitErr.Type),
		"value":      limitErr.Value,
		"threshold":  limitErr.Threshold,
	})
}

func (l *Loop) record(eventType string, payload map[string]any) {
	if l.cfg.Recorder == nil {
		return
	}
	l.cfg.Recorder.Event(eventType, payload)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

func estimateTokens(text string) int {
	chars := len([]rune(text))
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

func estimateTokensFromMessages(messages []transcript.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg.Content)
	}
	return total
}
