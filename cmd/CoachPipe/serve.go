package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/config"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/lockfile"
	"github.com/BTreeMap/CoachPipe/internal/scheduler"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// DefaultDBFileName is the SQLite ledger used when no DSN is given.
const DefaultDBFileName = "coachpipe.db"

// ServeCmd starts the reference backend.
// Usage: CoachPipe serve --addr :8080
type ServeCmd struct {
	Config        string `short:"f" long:"config" env:"COACHPIPE_CONFIG" default:"coach.yaml" description:"coach.yaml path"`
	Addr          string `short:"a" long:"addr" env:"COACHPIPE_ADDR" description:"listen address (overrides config listen)"`
	StateDir      string `long:"state-dir" env:"COACHPIPE_STATE_DIR" description:"state directory (overrides config state_dir)"`
	DSN           string `long:"db-dsn" env:"DATABASE_URL" description:"turn ledger: postgres:// or redis:// URL, SQLite path, or :memory:"`
	OpenAIKey     string `long:"openai-api-key" env:"OPENAI_API_KEY" description:"enables coach message phrasing"`
	OpenAIBaseURL string `long:"openai-base-url" env:"OPENAI_BASE_URL" description:"OpenAI-compatible endpoint"`
	WriteConfig   bool   `long:"write-config" description:"write the effective configuration to --config and exit"`
}

// resolve merges flags over the loaded configuration.
func (s *ServeCmd) resolve() (config.Config, string, error) {
	cfg, err := config.Load(s.Config)
	if err != nil {
		return cfg, "", err
	}
	if s.Addr != "" {
		cfg.Listen = s.Addr
	}
	if s.StateDir != "" {
		cfg.StateDir = s.StateDir
	}
	if s.DSN != "" {
		cfg.DatabaseDSN = s.DSN
	}
	dsn := cfg.DatabaseDSN
	if dsn == "" {
		dsn = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	return cfg, dsn, nil
}

func (s *ServeCmd) Execute(_ []string) error {
	cfg, dsn, err := s.resolve()
	if err != nil {
		return err
	}
	if s.WriteConfig {
		if err := config.Save(s.Config, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", s.Config)
		return nil
	}

	lock, err := lockfile.Acquire(cfg.StateDir, cfg.Listen)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(dsn)
	if err != nil {
		return fmt.Errorf("open turn ledger: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ledger.Retention > 0 {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(cfg.Ledger.PruneSchedule, scheduler.PruneJob(ctx, st, cfg.Ledger.Retention, nil)); err != nil {
			return fmt.Errorf("ledger prune schedule %q: %w", cfg.Ledger.PruneSchedule, err)
		}
	}

	opts := []api.Option{
		api.WithStore(st),
		api.WithTurnTimeout(cfg.TurnTimeout),
		api.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	if s.OpenAIKey != "" {
		client, err := genai.NewClient(
			genai.WithAPIKey(s.OpenAIKey),
			genai.WithBaseURL(s.OpenAIBaseURL),
			genai.WithModel(cfg.GenAI.Model),
			genai.WithSystemPrompt(cfg.GenAI.SystemPrompt),
			genai.WithTemperature(cfg.GenAI.Temperature),
			genai.WithMaxTokens(cfg.GenAI.MaxTokens),
			genai.WithDebugMode(cfg.GenAI.Debug, cfg.StateDir),
		)
		if err != nil {
			return fmt.Errorf("genai client: %w", err)
		}
		opts = append(opts, api.WithPhraser(client))
	} else {
		slog.Info("ServeCmd.Execute: no OpenAI key, serving scripted messages")
	}

	server := api.NewServer(opts...)
	defer server.Close()

	slog.Info("Bootstrapping CoachPipe backend", "version", version, "listen", cfg.Listen, "ledger", store.DetectDSNType(dsn), "genai", s.OpenAIKey != "")
	if err := server.ListenAndServe(ctx, cfg.Listen); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("CoachPipe backend exited successfully")
	return nil
}
