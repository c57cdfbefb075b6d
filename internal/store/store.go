// Package store provides storage backends for CoachPipe.
//
// A Store keeps two small pieces of state: the client's live/mock mode preference and,
// on the reference backend, the last turn id issued to each device. Backends exist for
// memory, SQLite, PostgreSQL and Redis; DetectDSNType picks one from a connection string.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is implemented by every backend.
type Store interface {
	// GetMode returns the stored mode preference, or "" when none was saved.
	GetMode() (models.Mode, error)
	SetMode(mode models.Mode) error
	// LastTurnID returns the last turn id issued to deviceID, or "" when none.
	LastTurnID(ctx context.Context, deviceID string) (string, error)
	SaveTurnID(ctx context.Context, deviceID, turnID string) error
	// PruneTurns forgets devices whose last turn was issued before the cutoff and
	// reports how many were removed.
	PruneTurns(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Opts holds configuration for the persistent backends.
type Opts struct {
	DSN string
}

// Option configures a backend.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the redis:// or rediss:// URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// DetectDSNType reports which backend a connection string targets:
// "postgres", "redis", "memory" or "sqlite".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case lower == "" || lower == ":memory:" || lower == "memory":
		return "memory"
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "postgres"
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// Open returns the backend selected by DetectDSNType.
func Open(dsn string) (Store, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("store.Open: selecting backend", "type", kind)
	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	case "redis":
		return NewRedisStore(WithRedisURL(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// parseStoredMode validates a mode read back from a backend.
func parseStoredMode(raw string) (models.Mode, error) {
	if raw == "" {
		return "", nil
	}
	mode, err := models.ParseMode(raw)
	if err != nil {
		return "", fmt.Errorf("stored mode preference: %w", err)
	}
	return mode, nil
}

type ledgerEntry struct {
	turnID  string
	updated time.Time
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	mode   models.Mode
	turns  map[string]ledgerEntry
	now    func() time.Time
	closed bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string]ledgerEntry), now: time.Now}
}

func (s *InMemoryStore) GetMode() (models.Mode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.mode, nil
}

func (s *InMemoryStore) SetMode(mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.mode = mode
	return nil
}

func (s *InMemoryStore) LastTurnID(_ context.Context, deviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.turns[deviceID].turnID, nil
}

func (s *InMemoryStore) SaveTurnID(_ context.Context, deviceID, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.turns[deviceID] = ledgerEntry{turnID: turnID, updated: s.now()}
	return nil
}

func (s *InMemoryStore) PruneTurns(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	for id, e := range s.turns {
		if e.updated.Before(before) {
			delete(s.turns, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
