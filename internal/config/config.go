// Package config loads agent0 configuration.
//
// Values resolve in three layers: built-in defaults, an optional TOML file,
// then environment variables (which always win).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// ErrMissingAPIKey is returned when the openai provider has no credential.
var ErrMissingAPIKey = errors.New("missing api key")

// Config is the full agent0 configuration.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	LLM      LLMConfig      `toml:"llm"`
	Runner   RunnerConfig   `toml:"runner"`
	Classify ClassifyConfig `toml:"classify"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`

	// Generation and RunID are process identity, never read from the file.
	Generation    int    `toml:"-"`
	RunID         string `toml:"-"`
	ParentEventID int64  `toml:"-"`
}

// AgentConfig holds filesystem layout and interpreter settings.
type AgentConfig struct {
	Workdir        string   `toml:"workdir"`
	Pool           string   `toml:"pool"`
	Source         string   `toml:"source"`
	Restart        []string `toml:"restart"`
	Python         string   `toml:"python"`
	Bash           string   `toml:"bash"`
	MaxTurns       int      `toml:"max_turns"` // 0 = run until exit
	MaxWallSeconds int      `toml:"max_wall_seconds"`
	MaxHistory     int      `toml:"max_history"` // messages kept besides the system prompt, 0 = all
}

// LLMConfig holds chat transport settings.
type LLMConfig struct {
	Provider               string `toml:"provider"`
	Model                  string `toml:"model"`
	BaseURL                string `toml:"base_url"`
	APIKeyEnv              string `toml:"api_key_env"`
	MaxTokens              int    `toml:"max_tokens"`
	MaxTotalTokens         int    `toml:"max_total_tokens"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	MaxRetries             int    `toml:"max_retries"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
	DummyScript            string `toml:"dummy_script"`
}

// RunnerConfig holds process runner settings.
type RunnerConfig struct {
	OutputLimit          int `toml:"output_limit"`
	PatchStrip           int `toml:"patch_strip"`
	PatchFuzz            int `toml:"patch_fuzz"`
	ScriptTimeoutSeconds int `toml:"script_timeout_seconds"`
	ImportTimeoutSeconds int `toml:"import_timeout_seconds"`
}

// ClassifyConfig holds stderr classifier settings.
type ClassifyConfig struct {
	InstallCommand string `toml:"install_command"`
	MaxInstalls    int    `toml:"max_installs"`
}

// StorageConfig holds state persistence settings.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Workdir: ".",
			Pool:    "python_tools",
			Source:  "internal/dispatch/dispatch.go",
			Restart: []string{"go", "run", "./cmd/agent0", "run"},
			Python:  "python3",
			Bash:    "bash",
		},
		LLM: LLMConfig{
			Provider:               "openai",
			Model:                  "gpt-4o-mini",
			BaseURL:                "https://api.openai.com/v1",
			APIKeyEnv:              "OPENAI_API_KEY",
			MaxTokens:              2048,
			TimeoutSeconds:         120,
			MaxRetries:             3,
			BreakerThreshold:       5,
			BreakerCooldownSeconds: 30,
		},
		Runner: RunnerConfig{
			OutputLimit:          1000,
			PatchStrip:           1,
			PatchFuzz:            1000,
			ImportTimeoutSeconds: 30,
		},
		Classify: ClassifyConfig{
			InstallCommand: "python3 -m pip install %s",
			MaxInstalls:    5,
		},
		Storage: StorageConfig{
			DBPath: "state/agent0.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML file at path (skipped when path is empty or missing)
// and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Agent.Workdir = envOrDefault("AGENT0_WORKDIR", cfg.Agent.Workdir)
	cfg.Agent.Pool = envOrDefault("AGENT0_POOL", cfg.Agent.Pool)
	cfg.Agent.Source = envOrDefault("AGENT0_SOURCE", cfg.Agent.Source)
	if v := os.Getenv("AGENT0_RESTART"); v != "" {
		cfg.Agent.Restart = strings.Fields(v)
	}
	cfg.Agent.Python = envOrDefault("AGENT0_PYTHON", cfg.Agent.Python)
	cfg.Agent.Bash = envOrDefault("AGENT0_BASH", cfg.Agent.Bash)
	cfg.Agent.MaxTurns = envIntOrDefault("AGENT0_MAX_TURNS", cfg.Agent.MaxTurns)
	cfg.Agent.MaxWallSeconds = envIntOrDefault("AGENT0_MAX_WALL_SECONDS", cfg.Agent.MaxWallSeconds)
	cfg.Agent.MaxHistory = envIntOrDefault("AGENT0_MAX_HISTORY", cfg.Agent.MaxHistory)

	cfg.LLM.Provider = envOrDefault("AGENT0_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = envOrDefault("AGENT0_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.MaxTokens = envIntOrDefault("AGENT0_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.MaxTotalTokens = envIntOrDefault("AGENT0_MAX_TOTAL_TOKENS", cfg.LLM.MaxTotalTokens)
	cfg.LLM.TimeoutSeconds = envIntOrDefault("AGENT0_LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)
	cfg.LLM.MaxRetries = envIntOrDefault("AGENT0_MAX_RETRIES", cfg.LLM.MaxRetries)
	cfg.LLM.BreakerThreshold = envIntOrDefault("AGENT0_BREAKER_THRESHOLD", cfg.LLM.BreakerThreshold)
	cfg.LLM.BreakerCooldownSeconds = envIntOrDefault("AGENT0_BREAKER_COOLDOWN_SECONDS", cfg.LLM.BreakerCooldownSeconds)
	cfg.LLM.DummyScript = envOrDefault("AGENT0_DUMMY_SCRIPT", cfg.LLM.DummyScript)

	cfg.Runner.OutputLimit = envIntOrDefault("AGENT0_OUTPUT_LIMIT", cfg.Runner.OutputLimit)
	cfg.Runner.PatchStrip = envIntOrDefault("AGENT0_PATCH_STRIP", cfg.Runner.PatchStrip)
	cfg.Runner.PatchFuzz = envIntOrDefault("AGENT0_PATCH_FUZZ", cfg.Runner.PatchFuzz)
	cfg.Runner.ScriptTimeoutSeconds = envIntOrDefault("AGENT0_SCRIPT_TIMEOUT_SECONDS", cfg.Runner.ScriptTimeoutSeconds)
	cfg.Runner.ImportTimeoutSeconds = envIntOrDefault("AGENT0_IMPORT_TIMEOUT_SECONDS", cfg.Runner.ImportTimeoutSeconds)

	cfg.Classify.InstallCommand = envOrDefault("AGENT0_INSTALL_COMMAND", cfg.Classify.InstallCommand)
	cfg.Classify.MaxInstalls = envIntOrDefault("AGENT0_MAX_INSTALLS", cfg.Classify.MaxInstalls)

	cfg.Storage.DBPath = envOrDefault("AGENT0_DB_PATH", cfg.Storage.DBPath)
	cfg.Log.Level = envOrDefault("AGENT0_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("AGENT0_LOG_FORMAT", cfg.Log.Format)

	cfg.Generation = envIntOrDefault("AGENT0_ID", 0)
	cfg.RunID = envOrDefault("AGENT0_RUN_ID", uuid.NewString())
	cfg.ParentEventID = int64(envIntOrDefault("AGENT0_PARENT_EVENT_ID", 0))
}

// Validate checks values that would make the loop misbehave.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Agent.Pool) == "" {
		return fmt.Errorf("agent.pool is empty")
	}
	if strings.Contains(c.Agent.Pool, ".") {
		return fmt.Errorf("agent.pool must be a plain package name: %s", c.Agent.Pool)
	}
	if strings.TrimSpace(c.Agent.Source) == "" {
		return fmt.Errorf("agent.source is empty")
	}
	if len(c.Agent.Restart) == 0 {
		return fmt.Errorf("agent.restart is empty")
	}
	if c.Runner.OutputLimit <= 0 {
		return fmt.Errorf("AGENT0_OUTPUT_LIMIT must be > 0")
	}
	if c.Runner.PatchStrip < 0 {
		return fmt.Errorf("AGENT0_PATCH_STRIP must be >= 0")
	}
	if c.Runner.ScriptTimeoutSeconds < 0 {
		return fmt.Errorf("AGENT0_SCRIPT_TIMEOUT_SECONDS must be >= 0")
	}
	if c.Runner.ImportTimeoutSeconds < 0 {
		return fmt.Errorf("AGENT0_IMPORT_TIMEOUT_SECONDS must be >= 0")
	}
	if c.Runner.PatchFuzz < 0 {
		return fmt.Errorf("AGENT0_PATCH_FUZZ must be >= 0")
	}
	if c.Agent.MaxTurns < 0 || c.Agent.MaxWallSeconds < 0 || c.Agent.MaxHistory < 0 {
		return fmt.Errorf("agent limits must be >= 0")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("AGENT0_MAX_RETRIES must be >= 0")
	}
	if c.LLM.BreakerThreshold <= 0 {
		return fmt.Errorf("AGENT0_BREAKER_THRESHOLD must be > 0")
	}
	if c.Classify.MaxInstalls < 0 {
		return fmt.Errorf("AGENT0_MAX_INSTALLS must be >= 0")
	}
	if !strings.Contains(c.Classify.InstallCommand, "%s") {
		return fmt.Errorf("classify.install_command must contain %%s")
	}
	switch c.LLM.Provider {
	case "openai", "dummy":
	default:
		return fmt.Errorf("unsupported model provider: %s", c.LLM.Provider)
	}
	return nil
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() (string, error) {
	if c.LLM.Provider != "openai" {
		return "", nil
	}
	env := c.LLM.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%w: %s is required when provider=openai", ErrMissingAPIKey, env)
	}
	return key, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
