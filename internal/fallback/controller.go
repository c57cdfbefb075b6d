package fallback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/timer"
)

// BannerTTL is how long a fallback notice stays visible.
const BannerTTL = 5 * time.Second

// PreferenceStore persists the user's live/mock choice.
type PreferenceStore interface {
	GetMode() (models.Mode, error)
	SetMode(mode models.Mode) error
}

// Opts holds configuration for the Controller.
type Opts struct {
	Timer     timer.Scheduler
	BannerTTL time.Duration
	OnChange  func()
}

// Option configures a Controller.
type Option func(*Opts)

// WithTimer supplies the scheduler used for banner expiry.
func WithTimer(t timer.Scheduler) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithBannerTTL overrides BannerTTL.
func WithBannerTTL(d time.Duration) Option {
	return func(o *Opts) { o.BannerTTL = d }
}

// WithOnChange registers a callback run (without locks held) whenever the banner,
// mode or pin changes.
func WithOnChange(fn func()) Option {
	return func(o *Opts) { o.OnChange = fn }
}

// Controller tracks the live/mock mode for one session, the session-sticky pin set by
// qualifying failures, and the current banner.
type Controller struct {
	prefs    PreferenceStore
	timer    timer.Scheduler
	ttl      time.Duration
	onChange func()

	mu        sync.Mutex
	mode      models.Mode
	pinned    bool
	banner    string
	bannerSeq uint64
}

// NewController reads the persisted mode and returns a Controller. A failed read
// falls back to models.DefaultMode.
func NewController(prefs PreferenceStore, opts ...Option) *Controller {
	cfg := Opts{BannerTTL: BannerTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timer == nil {
		cfg.Timer = timer.NewSimpleTimer()
	}
	if cfg.BannerTTL <= 0 {
		cfg.BannerTTL = BannerTTL
	}

	mode := models.DefaultMode
	if prefs != nil {
		stored, err := prefs.GetMode()
		switch {
		case err != nil:
			slog.Warn("fallback.NewController: reading mode preference failed, using default", "error", err, "default", mode)
		case stored != "":
			mode = stored
		}
	}
	slog.Debug("fallback.NewController", "mode", mode, "banner_ttl", cfg.BannerTTL)
	return &Controller{prefs: prefs, timer: cfg.Timer, ttl: cfg.BannerTTL, onChange: cfg.OnChange, mode: mode}
}

// SetOnChange replaces the change callback. Used by owners constructed after the controller.
func (c *Controller) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Mode returns the user's preferred mode.
func (c *Controller) Mode() models.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Pinned reports whether a failure has pinned this session to mock.
func (c *Controller) Pinned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// UseMock reports whether the next turn must skip the backend.
func (c *Controller) UseMock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned || c.mode == models.ModeMock
}

// Banner returns the visible notice, or "".
func (c *Controller) Banner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banner
}

// HandleFailure classifies err and, when it qualifies, pins the session and raises the
// matching banner. It reports whether the caller should substitute a mock turn.
func (c *Controller) HandleFailure(err error) bool {
	d, ok := Classify(err)
	if !ok {
		return false
	}
	c.mu.Lock()
	if d.Pin && !c.pinned {
		c.pinned = true
		slog.Warn("Controller.HandleFailure: pinning session to mock", "class", d.Class, "error", err)
	}
	c.mu.Unlock()
	c.SetBanner(d.Class.Text())
	return true
}

// SetBanner shows message and schedules it to clear after the TTL unless a newer
// banner replaces it first. An empty message clears immediately.
func (c *Controller) SetBanner(message string) {
	c.mu.Lock()
	c.bannerSeq++
	seq := c.bannerSeq
	c.banner = message
	c.mu.Unlock()

	if message != "" {
		if _, err := c.timer.ScheduleAfter(c.ttl, func() { c.expireBanner(seq) }); err != nil {
			slog.Error("Controller.SetBanner: scheduling expiry failed", "error", err)
		}
	}
	c.notify()
}

func (c *Controller) expireBanner(seq uint64) {
	c.mu.Lock()
	if c.bannerSeq != seq {
		c.mu.Unlock()
		slog.Debug("Controller.expireBanner: superseded", "seq", seq, "current", c.bannerSeq)
		return
	}
	c.banner = ""
	c.mu.Unlock()
	c.notify()
}

// SetMode persists mode, clears the pin and the banner. The owning session is expected
// to refresh right after.
func (c *Controller) SetMode(mode models.Mode) error {
	if c.prefs != nil {
		if err := c.prefs.SetMode(mode); err != nil {
			slog.Error("Controller.SetMode: persisting preference failed", "error", err, "mode", mode)
			return err
		}
	}
	c.mu.Lock()
	prev := c.mode
	c.mode = mode
	c.pinned = false
	c.bannerSeq++
	c.banner = ""
	c.mu.Unlock()
	slog.Info("Controller.SetMode: mode changed", "from", prev, "to", mode)
	c.notify()
	return nil
}

// Reset clears the pin without touching the stored preference.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.pinned = false
	c.mu.Unlock()
	c.notify()
}

// Stop cancels pending banner timers.
func (c *Controller) Stop() {
	c.timer.Stop()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
