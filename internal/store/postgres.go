package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists preferences and the turn ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetMode() (models.Mode, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = $1`, modeKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMode failed", "error", err)
		return "", fmt.Errorf("failed to read mode preference: %w", err)
	}
	return parseStoredMode(raw)
}

func (s *PostgresStore) SetMode(mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		modeKey, string(mode))
	if err != nil {
		slog.Error("PostgresStore SetMode failed", "error", err, "mode", mode)
		return fmt.Errorf("failed to save mode preference: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastTurnID(ctx context.Context, deviceID string) (string, error) {
	var turnID string
	err := s.db.QueryRowContext(ctx, `SELECT turn_id FROM turn_ledger WHERE device_id = $1`, deviceID).Scan(&turnID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore LastTurnID failed", "error", err, "device_id", deviceID)
		return "", fmt.Errorf("failed to read turn ledger for %s: %w", deviceID, err)
	}
	return turnID, nil
}

func (s *PostgresStore) SaveTurnID(ctx context.Context, deviceID, turnID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_ledger (device_id, turn_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (device_id) DO UPDATE SET turn_id = EXCLUDED.turn_id, updated_at = NOW()`,
		deviceID, turnID)
	if err != nil {
		slog.Error("PostgresStore SaveTurnID failed", "error", err, "device_id", deviceID)
		return fmt.Errorf("failed to save turn id for %s: %w", deviceID, err)
	}
	slog.Debug("PostgresStore SaveTurnID succeeded", "device_id", deviceID, "turn_id", turnID)
	return nil
}

func (s *PostgresStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turn_ledger WHERE updated_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PruneTurns failed", "error", err)
		return 0, fmt.Errorf("failed to prune turn ledger: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
