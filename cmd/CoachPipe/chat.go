package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/coach"
	"github.com/BTreeMap/CoachPipe/internal/fallback"
	"github.com/BTreeMap/CoachPipe/internal/health"
	"github.com/BTreeMap/CoachPipe/internal/mock"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/session"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/tui"
	"github.com/BTreeMap/CoachPipe/internal/util"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	// DefaultPrefsFileName holds the live/mock preference when no DSN is given.
	DefaultPrefsFileName = "prefs.db"
	// DefaultLogFileName receives logs while the terminal UI owns the screen.
	DefaultLogFileName = "coachpipe.log"
)

// ChatCmd runs the conversational check-in in the terminal.
// Usage: CoachPipe chat --url http://localhost:8080 --sleep-hours 5.5
type ChatCmd struct {
	URL      string        `short:"u" long:"url" env:"COACHPIPE_URL" default:"http://localhost:8080" description:"coach backend base URL"`
	DeviceID string        `long:"device-id" env:"COACHPIPE_DEVICE_ID" description:"device identifier sent with every turn (random when empty)"`
	Mode     string        `long:"mode" env:"COACHPIPE_MODE" choice:"live" choice:"mock" description:"store this coach mode before starting"`
	StateDir string        `long:"state-dir" env:"COACHPIPE_CHAT_STATE_DIR" description:"where preferences and logs are kept (default: user config dir)"`
	PrefsDSN string        `long:"prefs-dsn" env:"COACHPIPE_PREFS_DSN" description:"preference store: SQLite path, redis:// URL, or :memory:"`
	Timeout  time.Duration `long:"timeout" env:"COACHPIPE_TIMEOUT" default:"12s" description:"per-turn request timeout"`

	Goals     []string `long:"goal" description:"training goal (repeatable)"`
	Place     string   `long:"place" default:"home" description:"training place"`
	Equipment []string `long:"equipment" description:"available equipment (repeatable)"`
	Injuries  []string `long:"injury" description:"injury to plan around (repeatable)"`
	Steps     int      `long:"steps" default:"-1" description:"steps so far today (-1 for unknown)"`
	Sleep     float64  `long:"sleep-hours" default:"-1" description:"hours slept last night (-1 for unknown)"`
	RestingHR float64  `long:"resting-hr" default:"-1" description:"resting heart rate in bpm (-1 for unknown)"`

	logLevel string
}

// stateDir falls back to <user config dir>/coachpipe.
func (c *ChatCmd) stateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coachpipe")
	}
	return ".coachpipe"
}

// profile builds the static part of the UserState from flags.
func (c *ChatCmd) profile() models.UserState {
	u := models.DefaultUserState()
	if len(c.Goals) > 0 {
		u.Goals = append([]string(nil), c.Goals...)
	}
	if c.Place != "" {
		u.TrainingPlace = c.Place
	}
	u.Equipment = append(u.Equipment, c.Equipment...)
	u.Injuries = append(u.Injuries, c.Injuries...)
	return u
}

// healthProvider turns the sensor flags into a provider. Unknown readings are left unset.
func (c *ChatCmd) healthProvider() *health.StaticProvider {
	p := &health.StaticProvider{Authorized: c.Steps >= 0 || c.Sleep >= 0 || c.RestingHR >= 0}
	if c.Steps >= 0 {
		p.Steps = c.Steps
	}
	if c.Sleep >= 0 {
		p.Sleep = models.Ptr(c.Sleep)
	}
	if c.RestingHR >= 0 {
		p.RestingHR = models.Ptr(c.RestingHR)
	}
	return p
}

func (c *ChatCmd) Execute(_ []string) error {
	dir := c.stateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// The terminal belongs to the UI from here on.
	logFile, err := os.OpenFile(filepath.Join(dir, DefaultLogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	if err := initializeLogger(logFile, c.logLevel); err != nil {
		return err
	}

	prefsDSN := c.PrefsDSN
	if prefsDSN == "" {
		prefsDSN = filepath.Join(dir, DefaultPrefsFileName)
	}
	prefs, err := store.Open(prefsDSN)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	defer prefs.Close()

	if c.Mode != "" {
		mode, err := models.ParseMode(c.Mode)
		if err != nil {
			return err
		}
		if err := prefs.SetMode(mode); err != nil {
			return fmt.Errorf("store mode: %w", err)
		}
	}

	deviceID := c.DeviceID
	if deviceID == "" {
		deviceID = util.GenerateDeviceID()
	}
	slog.Info("ChatCmd.Execute: starting check-in", "url", c.URL, "device_id", deviceID, "prefs", store.DetectDSNType(prefsDSN))

	client := coach.NewClient(
		coach.WithBaseURL(c.URL),
		coach.WithDeviceID(deviceID),
		coach.WithTimeout(c.Timeout),
	)

	var program *tea.Program
	sess := session.New(session.Deps{
		Coach:     client,
		Generator: mock.NewEngine(),
		Fallback:  fallback.NewController(prefs),
		UserState: health.Source(c.healthProvider(), c.profile()),
	},
		session.WithAppVersion(version),
		session.WithLocale(util.DeviceLocale()),
		session.WithActionSink(func(a models.CoachAction) {
			if program != nil {
				program.Send(tui.ActionMsg{Action: a})
			}
		}),
	)
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	program = tui.NewProgram(ctx, sess, tea.WithAltScreen())
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
