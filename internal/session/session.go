// Package session implements the conversation state machine behind the coaching chat:
// turn history, the single active widget, the turn-id chain and the live/mock routing.
//
// A Session is host-agnostic. Hosts drive it through Refresh, SubmitReply and SetMode
// and observe it through Subscribe or Snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/fallback"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/BTreeMap/CoachPipe/internal/widget"
)

// Errors returned to hosts for contract violations. None of them change session state.
var (
	// ErrBusy is returned while another turn is in flight.
	ErrBusy = errors.New("session: a turn is already in flight")
	// ErrStaleReply is returned when the reply does not target the active widget.
	ErrStaleReply = errors.New("session: reply does not match the active widget")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
	// ErrNoGenerator is returned when a turn must be served locally but no generator is set.
	ErrNoGenerator = errors.New("session: no plan generator configured")
)

// State is the position of the session in its state machine.
type State string

const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateAwaitingInput State = "awaiting_input"
	StateError         State = "error"
)

// Transport sends a turn to the live backend.
type Transport interface {
	SendTurn(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error)
}

// PlanGenerator produces a turn locally.
type PlanGenerator interface {
	Generate(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error)
}

// StateSource supplies the current UserState for each turn.
type StateSource func(ctx context.Context) models.UserState

// ActionSink receives coach actions in response order.
type ActionSink func(models.CoachAction)

// StaticState returns a StateSource that always yields u.
func StaticState(u models.UserState) StateSource {
	return func(context.Context) models.UserState { return u.Clone() }
}

// Deps are the collaborators a Session needs.
type Deps struct {
	Coach     Transport // nil means every turn is served by Generator
	Generator PlanGenerator
	Fallback  *fallback.Controller
	UserState StateSource
}

// Opts holds configuration for a Session.
type Opts struct {
	AppVersion string
	Locale     string
	Timezone   string
	Now        func() time.Time
	Actions    ActionSink
}

// Option configures a Session.
type Option func(*Opts)

// WithAppVersion sets the app_version sent with each turn.
func WithAppVersion(v string) Option {
	return func(o *Opts) { o.AppVersion = v }
}

// WithLocale sets the device_locale sent with each turn.
func WithLocale(locale string) Option {
	return func(o *Opts) { o.Locale = locale }
}

// WithTimezone sets the timezone sent with each turn.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithClock overrides the clock used for now_iso and card timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithActionSink registers the collaborator that receives coach actions.
func WithActionSink(sink ActionSink) Option {
	return func(o *Opts) { o.Actions = sink }
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	State        State
	Cards        []models.Card
	ActiveWidget models.Widget
	LastTurnID   string
	Loading      bool
	Error        string
	Banner       string
	Mode         models.Mode
	Pinned       bool
	Safety       models.SafetyFlags
}

// Session owns one coaching conversation.
type Session struct {
	deps Deps
	cfg  Opts

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	cards      []models.Card
	active     models.Widget
	lastTurnID *string
	errMsg     string
	safety     models.SafetyFlags
	generation uint64
	closed     bool

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an idle Session.
func New(deps Deps, opts ...Option) *Session {
	cfg := Opts{
		AppVersion: "1.0",
		Locale:     "en_US",
		Timezone:   time.Local.String(),
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if deps.Fallback == nil {
		deps.Fallback = fallback.NewController(nil)
	}
	if deps.UserState == nil {
		deps.UserState = StaticState(models.DefaultUserState())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:   deps,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		subs:   make(map[int]func(Snapshot)),
	}
	deps.Fallback.SetOnChange(s.notify)
	slog.Debug("session.New", "mode", deps.Fallback.Mode(), "live_transport", deps.Coach != nil, "generator", deps.Generator != nil)
	return s
}

// Refresh asks for a new turn without a user reply.
func (s *Session) Refresh(ctx context.Context) error {
	return s.run(ctx, nil, nil)
}

// SubmitReply answers the active widget. Replies aimed at any other widget are
// ignored with ErrStaleReply; replies that fail validation return a widget.ValidationError.
func (s *Session) SubmitReply(ctx context.Context, widgetID string, value any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateLoading {
		s.mu.Unlock()
		return ErrBusy
	}
	active := s.active
	s.mu.Unlock()

	if active == nil || active.WidgetID() != widgetID {
		slog.Debug("Session.SubmitReply: ignoring stale reply", "widget_id", widgetID, "has_active", active != nil)
		return ErrStaleReply
	}
	resolved, err := widget.Resolve(active, value)
	if err != nil {
		slog.Debug("Session.SubmitReply: reply rejected", "widget_id", widgetID, "error", err)
		return err
	}
	return s.run(ctx, &models.UserReply{WidgetID: widgetID, Value: resolved}, active)
}

// SetMode stores the live/mock preference, clears any fallback pin and refreshes.
// The turn-id chain restarts because the new target never issued the previous id;
// history is preserved. The turn slot is held from before the preference is written
// until the refresh lands, so no other turn can reuse the old chain in between.
func (s *Session) SetMode(ctx context.Context, mode models.Mode) error {
	gen, prev, err := s.claim(nil)
	if err != nil {
		return err
	}

	if err := s.deps.Fallback.SetMode(mode); err != nil {
		s.release(gen, prev)
		return fmt.Errorf("session: set mode: %w", err)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastTurnID = nil
	s.cards = append(s.cards, models.Card{
		ID:        util.GenerateCardID(),
		Role:      models.CardRoleSystem,
		Text:      fmt.Sprintf("Coach mode set to %s.", mode),
		Timestamp: s.cfg.Now(),
	})
	s.mu.Unlock()
	s.notify()

	return s.turn(ctx, gen, nil)
}

// RetryLive clears a fallback pin without touching the stored preference and refreshes,
// so the next turn goes to the live coach again. The turn-id chain is kept.
func (s *Session) RetryLive(ctx context.Context) error {
	gen, _, err := s.claim(nil)
	if err != nil {
		return err
	}
	if s.deps.Fallback.Pinned() {
		slog.Info("Session.RetryLive: clearing fallback pin")
	}
	s.deps.Fallback.Reset()
	return s.turn(ctx, gen, nil)
}

// Close tears the session down. An in-flight turn is cancelled and its result dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.mu.Unlock()

	s.cancel()
	s.deps.Fallback.SetOnChange(nil)
	s.deps.Fallback.Stop()

	s.subsMu.Lock()
	s.subs = make(map[int]func(Snapshot))
	s.subsMu.Unlock()
	slog.Debug("Session.Close: session closed")
}

// run performs one turn. expect, when set, is the widget the reply answers; the turn is
// refused if a newer turn replaced it in the meantime.
func (s *Session) run(ctx context.Context, reply *models.UserReply, expect models.Widget) error {
	gen, _, err := s.claim(expect)
	if err != nil {
		return err
	}
	return s.turn(ctx, gen, reply)
}

// claim takes the single turn slot by moving to StateLoading. It returns the generation
// the claim belongs to and the state to restore if the caller gives up before a turn.
func (s *Session) claim(expect models.Widget) (uint64, State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, "", ErrClosed
	}
	if s.state == StateLoading {
		s.mu.Unlock()
		return 0, "", ErrBusy
	}
	if expect != nil && s.active != expect {
		s.mu.Unlock()
		return 0, "", ErrStaleReply
	}
	prev := s.state
	s.state = StateLoading
	gen := s.generation
	s.mu.Unlock()
	s.notify()
	return gen, prev, nil
}

// release gives the turn slot back without running a turn.
func (s *Session) release(gen uint64, prev State) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.state = prev
	s.mu.Unlock()
	s.notify()
}

// turn sends one request on a claimed slot and applies the outcome.
func (s *Session) turn(ctx context.Context, gen uint64, reply *models.UserReply) error {
	s.mu.Lock()
	var lastTurnID *string
	if s.lastTurnID != nil {
		lastTurnID = models.Ptr(*s.lastTurnID)
	}
	s.mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	req := models.TurnRequest{
		AppVersion:   s.cfg.AppVersion,
		DeviceLocale: s.cfg.Locale,
		Timezone:     s.cfg.Timezone,
		NowISO:       s.cfg.Now().Format(time.RFC3339),
		UserState:    s.deps.UserState(turnCtx),
		LastTurnID:   lastTurnID,
		UserReply:    reply,
	}
	resp, err := s.exchange(turnCtx, req)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		slog.Debug("Session.turn: dropping completion for closed session")
		return ErrClosed
	}
	if err != nil {
		// The active widget stays so the user can retry the same reply.
		s.errMsg = err.Error()
		s.state = StateError
		s.mu.Unlock()
		slog.Error("Session.turn: turn failed", "error", err, "has_reply", reply != nil)
		s.notify()
		return err
	}
	s.apply(resp)
	s.mu.Unlock()

	slog.Info("Session.turn: turn applied", "turn_id", resp.TurnID, "intent", resp.NextIntent, "widgets", len(resp.Widgets), "actions", len(resp.Actions))
	s.notify()
	s.forward(resp.Actions)
	return nil
}

// exchange routes the turn to the live backend or the local generator and degrades to
// the generator on qualifying backend failures.
func (s *Session) exchange(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error) {
	var liveErr error
	if s.deps.Coach != nil && !s.deps.Fallback.UseMock() {
		resp, err := s.deps.Coach.SendTurn(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !s.deps.Fallback.HandleFailure(err) {
			return models.TurnResponse{}, err
		}
		slog.Warn("Session.exchange: live coach failed, serving mock turn", "error", err)
		liveErr = err
	}
	if s.deps.Generator == nil {
		if liveErr != nil {
			return models.TurnResponse{}, fmt.Errorf("%w: %w", ErrNoGenerator, liveErr)
		}
		return models.TurnResponse{}, ErrNoGenerator
	}
	return s.deps.Generator.Generate(ctx, req)
}

// apply records a successful turn. Callers hold s.mu.
func (s *Session) apply(resp models.TurnResponse) {
	s.cards = append(s.cards, models.Card{
		ID:        util.GenerateCardID(),
		Role:      models.CardRoleCoach,
		Text:      resp.CoachMessage,
		Timestamp: s.cfg.Now(),
		Intent:    resp.NextIntent,
		Priority:  resp.Priority,
	})
	turnID := resp.TurnID
	s.lastTurnID = &turnID
	s.active = resp.ActiveWidget()
	s.safety = resp.Safety
	s.errMsg = ""
	if s.active != nil {
		s.state = StateAwaitingInput
	} else {
		s.state = StateIdle
	}
}

func (s *Session) forward(actions models.ActionList) {
	if s.cfg.Actions == nil {
		return
	}
	for _, a := range actions {
		s.cfg.Actions(a)
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:        s.state,
		Cards:        append([]models.Card(nil), s.cards...),
		ActiveWidget: s.active,
		Loading:      s.state == StateLoading,
		Error:        s.errMsg,
		Banner:       s.deps.Fallback.Banner(),
		Mode:         s.deps.Fallback.Mode(),
		Pinned:       s.deps.Fallback.Pinned(),
		Safety:       s.safety,
	}
	if s.lastTurnID != nil {
		snap.LastTurnID = *s.lastTurnID
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change. fn runs on the
// goroutine that made the change and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.subsMu.Lock()
	if len(s.subs) == 0 {
		s.subsMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}
