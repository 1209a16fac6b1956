// Package dummy provides a scripted chat provider for tests and dry runs.
//
// A script is a comma separated list of steps, consumed one per call; the
// last step repeats once the script is exhausted:
//
//	ok | ok:<text> | err:<class> | sleep:<ms> | msg:<text> | msgb64:<base64>
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/agent0/internal/model"
	"github.com/stupiduntilnot/agent0/internal/transcript"
)

type step struct {
	kind string
	arg  string
}

func parseScript(script string) ([]step, error) {
	if strings.TrimSpace(script) == "" {
		return []step{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	steps := make([]step, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			steps = append(steps, step{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy step: %s", token)
		}
		switch kind {
		case "ok", "err", "sleep", "msg", "msgb64":
			steps = append(steps, step{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy step: %s", token)
		}
	}
	if len(steps) == 0 {
		steps = append(steps, step{kind: "ok"})
	}
	return steps, nil
}

type scriptRunner struct {
	steps []step
	index int
}

func (r *scriptRunner) next() step {
	if len(r.steps) == 0 {
		return step{kind: "ok"}
	}
	if r.index >= len(r.steps) {
		return r.steps[len(r.steps)-1]
	}
	s := r.steps[r.index]
	r.index++
	return s
}

// Provider replays a script. Safe for concurrent use.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  [][]transcript.Message
}

// NewProvider parses script and returns a Provider.
func NewProvider(model, script string) (*Provider, error) {
	steps, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: &scriptRunner{steps: steps}}, nil
}

// Script encodes replies as msgb64 steps so they may contain commas and newlines.
func Script(replies ...string) string {
	parts := make([]string, len(replies))
	for i, r := range replies {
		parts[i] = "msgb64:" + base64.StdEncoding.EncodeToString([]byte(r))
	}
	return strings.Join(parts, ",")
}

// Calls returns the message lists received so far.
func (p *Provider) Calls() [][]transcript.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]transcript.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []transcript.Message) (model.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]transcript.Message, len(messages))
	copy(snapshot, messages)
	p.calls = append(p.calls, snapshot)

	if err := ctx.Err(); err != nil {
		return model.CompletionResponse{}, err
	}

	s := p.script.next()
	switch s.kind {
	case "ok":
		return reply(emptyAs(s.arg, "dummy-ok")), nil
	case "err":
		return model.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(s.arg, "provider_api"))
	case "sleep":
		ms, _ := strconv.Atoi(s.arg)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return model.CompletionResponse{}, ctx.Err()
			}
		}
		return reply("dummy-after-sleep"), nil
	case "msg":
		return reply(s.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(s.arg)
		if err != nil {
			return model.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	default:
		return reply("dummy-ok"), nil
	}
}

func reply(content string) model.CompletionResponse {
	return model.CompletionResponse{
		Content:      content,
		InputTokens:  1,
		OutputTokens: 1,
		TotalTokens:  2,
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
