// Package api implements the reference coaching backend: POST /api/coach/today
// answers turn requests with the scripted coach, optionally rephrased by genai.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/coach"
	"github.com/BTreeMap/CoachPipe/internal/mock"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// Server defaults.
const (
	DefaultTurnTimeout = 10 * time.Second
	DefaultRateLimit   = 2.0
	DefaultBurst       = 5
	shutdownTimeout    = 5 * time.Second
	anonymousDevice    = "anonymous"
)

// Generator produces the scripted turn for a request.
type Generator interface {
	Generate(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error)
}

// Phraser rewrites a scripted coach message.
type Phraser interface {
	Rephrase(ctx context.Context, scripted, intent string, u models.UserState) (string, error)
}

// Opts holds configuration for the Server.
type Opts struct {
	Store       store.Store
	Generator   Generator
	Phraser     Phraser
	TurnTimeout time.Duration
	RPS         float64
	Burst       int
}

// Option configures a Server.
type Option func(*Opts)

// WithStore sets the turn ledger. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithGenerator replaces the scripted coach.
func WithGenerator(g Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithPhraser enables message rephrasing.
func WithPhraser(p Phraser) Option {
	return func(o *Opts) { o.Phraser = p }
}

// WithTurnTimeout bounds the work done for one turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) { o.TurnTimeout = d }
}

// WithRateLimit sets the per-device token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.RPS = rps
		o.Burst = burst
	}
}

// Server is the reference coaching backend.
type Server struct {
	store       store.Store
	generator   Generator
	phraser     Phraser
	turnTimeout time.Duration
	limiter     *deviceLimiter
	chains      *chainLocks
}

// NewServer creates a Server.
func NewServer(opts ...Option) *Server {
	cfg := Opts{TurnTimeout: DefaultTurnTimeout, RPS: DefaultRateLimit, Burst: DefaultBurst}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.Generator == nil {
		cfg.Generator = mock.NewEngine(mock.WithTurnIDPrefix("turn-"))
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	slog.Debug("api.NewServer", "phraser", cfg.Phraser != nil, "rps", cfg.RPS, "burst", cfg.Burst, "turn_timeout", cfg.TurnTimeout)
	return &Server{
		store:       cfg.Store,
		generator:   cfg.Generator,
		phraser:     cfg.Phraser,
		turnTimeout: cfg.TurnTimeout,
		limiter:     newDeviceLimiter(cfg.RPS, cfg.Burst),
		chains:      newChainLocks(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(coach.TodayPath, s.limiter.middleware(http.HandlerFunc(s.todayHandler)))
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Server.ListenAndServe: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases background resources. The store is owned by the caller.
func (s *Server) Close() {
	s.limiter.Close()
}

// deviceID returns the caller's device id header, or "anonymous".
func deviceID(r *http.Request) string {
	if id := r.Header.Get(coach.DeviceIDHeader); id != "" {
		return id
	}
	return anonymousDevice
}
