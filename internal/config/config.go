// Package config loads the reference backend's coach.yaml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "coach.yaml"

// Config is the backend configuration.
type Config struct {
	Listen      string        `yaml:"listen"`
	StateDir    string        `yaml:"state_dir"`
	DatabaseDSN string        `yaml:"database_dsn"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	GenAI       GenAI         `yaml:"genai"`
	RateLimit   RateLimit     `yaml:"rate_limit"`
	Ledger      Ledger        `yaml:"ledger"`
}

// GenAI configures the optional message phrasing.
type GenAI struct {
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int64   `yaml:"max_tokens"`
	Debug        bool    `yaml:"debug"`
}

// RateLimit is a per-device token bucket.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Ledger controls how long per-device turn ids are kept.
type Ledger struct {
	// Retention of zero keeps entries forever.
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// Default returns the configuration used when coach.yaml is absent.
func Default() Config {
	return Config{
		Listen:      ":8080",
		StateDir:    "/var/lib/coachpipe",
		TurnTimeout: 10 * time.Second,
		GenAI: GenAI{
			Model:        genai.DefaultModel,
			SystemPrompt: genai.DefaultSystemPrompt,
			Temperature:  genai.DefaultTemperature,
			MaxTokens:    genai.DefaultMaxTokens,
		},
		RateLimit: RateLimit{RequestsPerSecond: 2, Burst: 5},
		Ledger:    Ledger{Retention: 30 * 24 * time.Hour, PruneSchedule: "@daily"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config.Load: no config file, using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Debug("config.Load: loaded", "path", path, "listen", cfg.Listen, "model", cfg.GenAI.Model)
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive, got %s", c.TurnTimeout)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1, got %d", c.RateLimit.Burst)
	}
	if c.Ledger.Retention < 0 {
		return fmt.Errorf("ledger.retention must not be negative, got %s", c.Ledger.Retention)
	}
	if c.Ledger.Retention > 0 && c.Ledger.PruneSchedule == "" {
		return errors.New("ledger.prune_schedule is required when retention is set")
	}
	if c.GenAI.Temperature < 0 || c.GenAI.Temperature > 2 {
		return fmt.Errorf("genai.temperature must be within [0, 2], got %v", c.GenAI.Temperature)
	}
	return nil
}

// Save writes c as YAML. Used by `CoachPipe serve --write-config`.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
