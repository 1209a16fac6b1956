package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/agent0/internal/classify"
	"github.com/stupiduntilnot/agent0/internal/config"
	"github.com/stupiduntilnot/agent0/internal/control"
	"github.com/stupiduntilnot/agent0/internal/db"
	"github.com/stupiduntilnot/agent0/internal/dispatch"
	"github.com/stupiduntilnot/agent0/internal/dummy"
	"github.com/stupiduntilnot/agent0/internal/logging"
	"github.com/stupiduntilnot/agent0/internal/loop"
	"github.com/stupiduntilnot/agent0/internal/model"
	"github.com/stupiduntilnot/agent0/internal/openai"
	"github.com/stupiduntilnot/agent0/internal/runner"
	"github.com/stupiduntilnot/agent0/internal/selfsrc"
	"github.com/stupiduntilnot/agent0/internal/toolpool"
)

// agent bundles everything one generation needs.
type agent struct {
	cfg      config.Config
	logger   *zap.Logger
	database *sql.DB
	recorder *db.Recorder
	runner   *runner.Runner
	registry *toolpool.Registry
	source   *selfsrc.Source
}

func (a *agent) Close() {
	if a.database != nil {
		a.database.Close()
	}
	_ = a.logger.Sync()
}

// setup loads configuration and wires the runner, classifier and registry.
// The process.started event is the root of this generation's events.
func setup(g *Globals, role string) (*agent, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	return setupWith(cfg, role)
}

func setupWith(cfg config.Config, role string) (*agent, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.Int("generation", cfg.Generation), zap.String("run_id", cfg.RunID))

	database, err := db.OpenDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	var parentID *int64
	if cfg.ParentEventID > 0 {
		parentID = &cfg.ParentEventID
	}
	root := &db.Recorder{DB: database, Parent: parentID, RunID: cfg.RunID, Logger: logger}
	startedID := root.Event(db.EventProcessStarted, map[string]any{
		"role":       role,
		"pid":        os.Getpid(),
		"generation": cfg.Generation,
		"run_id":     cfg.RunID,
		"provider":   cfg.LLM.Provider,
	})
	recorder := root.Child(startedID)

	source := selfsrc.New(cfg.Agent.Source)
	r := runner.New(runner.Config{
		Workdir:    cfg.Agent.Workdir,
		Pool:       cfg.Agent.Pool,
		Python:     cfg.Agent.Python,
		Bash:       cfg.Agent.Bash,
		PatchStrip: cfg.Runner.PatchStrip,
		PatchFuzz:  cfg.Runner.PatchFuzz,
		Generation: cfg.Generation,
		Source:     source,
		Revisions:  recorder,
		Logger:     logger,
	})
	r.SetClassifier(classify.New(classify.Config{
		Installer:   &runner.PipInstaller{Runner: r, Command: cfg.Classify.InstallCommand},
		MaxInstalls: cfg.Classify.MaxInstalls,
		Dir:         cfg.Agent.Workdir,
		Logger:      logger,
		Recorder:    recorder,
	}))
	registry := toolpool.New(toolpool.Config{
		Workdir:  cfg.Agent.Workdir,
		Pool:     cfg.Agent.Pool,
		Importer: toolpool.PythonImporter{Python: cfg.Agent.Python, Dir: cfg.Agent.Workdir, Timeout: time.Duration(cfg.Runner.ImportTimeoutSeconds) * time.Second},
		Recorder: recorder,
		Logger:   logger,
	})

	return &agent{
		cfg:      cfg,
		logger:   logger,
		database: database,
		recorder: recorder,
		runner:   r,
		registry: registry,
		source:   source,
	}, nil
}

// Run wires the loop and blocks until the model exits or a limit is hit.
func (c *RunCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	if c.MaxTurns > 0 {
		cfg.Agent.MaxTurns = c.MaxTurns
	}
	if c.Provider != "" {
		cfg.LLM.Provider = c.Provider
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	a, err := setupWith(cfg, "agent")
	if err != nil {
		return err
	}
	defer a.Close()

	provider, err := newModelProvider(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := dispatch.New(dispatch.Options{
		Generation:    a.cfg.Generation,
		RunID:         a.cfg.RunID,
		Runner:        a.runner,
		Registry:      a.registry,
		Source:        a.source,
		PatchStrip:    a.cfg.Runner.PatchStrip,
		PatchFuzz:     a.cfg.Runner.PatchFuzz,
		OutputLimit:   a.cfg.Runner.OutputLimit,
		RestartArgv:   a.cfg.Agent.Restart,
		ScriptTimeout: time.Duration(a.cfg.Runner.ScriptTimeoutSeconds) * time.Second,
		Recorder:      a.recorder,
		Logger:        a.logger,
	})
	l := loop.New(loop.Config{
		Provider:   provider,
		Dispatcher: d,
		Policy:     policyFrom(a.cfg),
		Breaker:    control.NewCircuitBreaker(a.cfg.LLM.BreakerThreshold, time.Duration(a.cfg.LLM.BreakerCooldownSeconds)*time.Second),
		MaxHistory: a.cfg.Agent.MaxHistory,
		Recorder:   a.recorder,
		Logger:     a.logger,
	})

	a.logger.Info("agent running",
		zap.String("provider", a.cfg.LLM.Provider),
		zap.String("model", a.cfg.LLM.Model),
		zap.String("source", a.cfg.Agent.Source),
		zap.String("pool", a.cfg.Agent.Pool),
	)
	sum, err := l.Run(ctx)
	a.logger.Info("agent stopped",
		zap.Int("turns", sum.Turns),
		zap.Bool("exited", sum.Exited),
		zap.Int("prompt_tokens", sum.Usage.Prompt),
		zap.Int("completion_tokens", sum.Usage.Completion),
		zap.Int("total_tokens", sum.Usage.Total),
	)

	var limitErr *control.LimitError
	switch {
	case err == nil, errors.As(err, &limitErr):
		return nil
	case errors.Is(err, context.Canceled):
		a.logger.Info("interrupted")
		return nil
	default:
		return err
	}
}

func policyFrom(cfg config.Config) control.Policy {
	return control.Policy{
		MaxTurns:    cfg.Agent.MaxTurns,
		MaxWallTime: time.Duration(cfg.Agent.MaxWallSeconds) * time.Second,
		MaxTokens:   cfg.LLM.MaxTotalTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
	}
}

func newModelProvider(cfg config.Config) (model.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		key, err := cfg.APIKey()
		if err != nil {
			return nil, err
		}
		return openai.NewClient(key, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second), nil
	case "dummy":
		return dummy.NewProvider(cfg.LLM.Model, cfg.LLM.DummyScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.LLM.Provider)
	}
}
