package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

// modeKey is the preferences row holding the live/mock choice.
const modeKey = "mode"

// sqliteTimeLayout matches what CURRENT_TIMESTAMP writes, so cutoffs compare as text.
const sqliteTimeLayout = "2006-01-02 15:04:05"

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists preferences and the turn ledger in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at the configured DSN
// and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetMode() (models.Mode, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, modeKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMode failed", "error", err)
		return "", fmt.Errorf("failed to read mode preference: %w", err)
	}
	return parseStoredMode(raw)
}

func (s *SQLiteStore) SetMode(mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		modeKey, string(mode))
	if err != nil {
		slog.Error("SQLiteStore SetMode failed", "error", err, "mode", mode)
		return fmt.Errorf("failed to save mode preference: %w", err)
	}
	slog.Debug("SQLiteStore SetMode succeeded", "mode", mode)
	return nil
}

func (s *SQLiteStore) LastTurnID(ctx context.Context, deviceID string) (string, error) {
	var turnID string
	err := s.db.QueryRowContext(ctx, `SELECT turn_id FROM turn_ledger WHERE device_id = ?`, deviceID).Scan(&turnID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore LastTurnID failed", "error", err, "device_id", deviceID)
		return "", fmt.Errorf("failed to read turn ledger for %s: %w", deviceID, err)
	}
	return turnID, nil
}

func (s *SQLiteStore) SaveTurnID(ctx context.Context, deviceID, turnID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_ledger (device_id, turn_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(device_id) DO UPDATE SET turn_id = excluded.turn_id, updated_at = CURRENT_TIMESTAMP`,
		deviceID, turnID)
	if err != nil {
		slog.Error("SQLiteStore SaveTurnID failed", "error", err, "device_id", deviceID)
		return fmt.Errorf("failed to save turn id for %s: %w", deviceID, err)
	}
	slog.Debug("SQLiteStore SaveTurnID succeeded", "device_id", deviceID, "turn_id", turnID)
	return nil
}

func (s *SQLiteStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turn_ledger WHERE updated_at < ?`,
		before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		slog.Error("SQLiteStore PruneTurns failed", "error", err)
		return 0, fmt.Errorf("failed to prune turn ledger: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
