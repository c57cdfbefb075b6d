// Package mock provides the canned coaching script used when the live backend is
// disabled or unavailable. The reference backend serves the same script.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/google/uuid"
)

// Stage names the step of the daily check-in script.
type Stage string

const (
	StageWelcome Stage = "welcome"
	StageOffer   Stage = "offer"
	StageLength  Stage = "length"
	StageLater   Stage = "later"
	StageReady   Stage = "ready"
)

// Widget ids used by the script.
const (
	WidgetMood        = "mood"
	WidgetStartChoice = "start_choice"
	WidgetLength      = "length"
)

// Script tuning.
const (
	ShortSleepHours   = 6.0
	ElevatedRestingHR = 95.0 // bpm
	ReminderDelay     = 2 * time.Hour
)

// Opts holds configuration for the Engine.
type Opts struct {
	TurnIDPrefix string
	Now          func() time.Time
}

// Option configures an Engine.
type Option func(*Opts)

// WithTurnIDPrefix sets the prefix of generated turn ids.
func WithTurnIDPrefix(prefix string) Option {
	return func(o *Opts) { o.TurnIDPrefix = prefix }
}

// WithNow overrides the clock used when a request carries no timestamp.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine generates scripted turn responses. It keeps no state between calls: the
// stage is derived from the reply being answered.
type Engine struct {
	prefix string
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{TurnIDPrefix: "mock-", Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{prefix: cfg.TurnIDPrefix, now: cfg.Now}
}

// StageFor returns the stage that answers reply.
func StageFor(reply *models.UserReply) Stage {
	if reply == nil {
		return StageWelcome
	}
	switch reply.WidgetID {
	case WidgetMood:
		return StageOffer
	case WidgetStartChoice:
		if s, _ := reply.Value.(string); s == "later" {
			return StageLater
		}
		return StageLength
	case WidgetLength:
		return StageReady
	}
	return StageWelcome
}

// Generate builds the scripted response for req.
func (e *Engine) Generate(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.TurnResponse{}, err
	}
	stage := StageFor(req.UserReply)
	var resp models.TurnResponse
	switch stage {
	case StageWelcome:
		resp = welcome(req.UserState)
	case StageOffer:
		mood, _ := req.UserReply.Value.(string)
		resp = offer(req.UserState, mood)
	case StageLength:
		resp = askLength(req.UserState)
	case StageLater:
		resp = later(e.requestTime(req))
	case StageReady:
		resp = ready(req.UserReply.Value)
	}
	resp.TurnID = e.prefix + uuid.NewString()
	resp.Debug = &models.DebugInfo{Info: "mock-" + string(stage)}
	slog.Debug("mock.Engine.Generate", "stage", stage, "turn_id", resp.TurnID, "intent", resp.NextIntent)
	return resp, nil
}

func (e *Engine) requestTime(req models.TurnRequest) time.Time {
	if t := req.Now(); !t.IsZero() {
		return t
	}
	return e.now()
}

func shortSleep(u models.UserState) (float64, bool) {
	if u.SleepHoursLastNight == nil {
		return 0, false
	}
	return *u.SleepHoursLastNight, *u.SleepHoursLastNight < ShortSleepHours
}

func elevatedPulse(u models.UserState) bool {
	return u.RestingHeartRate != nil && *u.RestingHeartRate > ElevatedRestingHR
}

func baseResponse(message, intent string) models.TurnResponse {
	return models.TurnResponse{
		CoachMessage: message,
		Priority:     models.PriorityNormal,
		NextIntent:   intent,
		Widgets:      models.WidgetList{},
		Actions:      models.ActionList{},
		Safety:       models.SafetyFlags{Contraindications: []string{}},
	}
}

func welcome(u models.UserState) models.TurnResponse {
	msg := "Hi! I'm your AI coach. How are you feeling today?"
	if hours, short := shortSleep(u); short {
		msg = fmt.Sprintf("Hi! Looks like a short night (about %.1f h). Let's keep it light today. How are you feeling?", hours)
	} else if u.StepsToday != nil && *u.StepsToday == 0 {
		msg = "Hi! No steps yet today. How about starting with a short walk? How are you feeling?"
	} else if elevatedPulse(u) {
		msg = "Hi! Your pulse is elevated right now. How about a calm warm-up?"
	}
	resp := baseResponse(msg, "daily_checkin")
	resp.Widgets = models.WidgetList{&models.ButtonsWidget{
		ID:    WidgetMood,
		Title: "How do you feel?",
		Options: []models.ButtonOption{
			{Label: "Great", Value: "great"},
			{Label: "Okay", Value: "ok"},
			{Label: "Tired", Value: "tired"},
		},
	}}
	return resp
}

func offer(u models.UserState, mood string) models.TurnResponse {
	var msg string
	switch mood {
	case "great":
		msg = "Great! A quick warm-up and 10 minutes of active work. Ready?"
	case "tired":
		msg = "Got it. Let's do an easy 8-10 minute mobility session. Shall we?"
	default:
		msg = "Nice. Let's do 10 minutes of moderate activity. Start now?"
	}
	if _, short := shortSleep(u); short {
		msg = "Let's do an easy 8-10 minute mobility session. Shall we?"
	}
	resp := baseResponse(msg, "offer_session")
	resp.Widgets = models.WidgetList{&models.ButtonsWidget{
		ID:    WidgetStartChoice,
		Title: "Start now?",
		Options: []models.ButtonOption{
			{Label: "Start", Value: "start"},
			{Label: "Later", Value: "later"},
		},
	}}
	return resp
}

func askLength(u models.UserState) models.TurnResponse {
	msg := "How many minutes can you give today?"
	if elevatedPulse(u) {
		msg = "Your pulse is elevated, so recovery is the better call. How many minutes can you give today?"
	}
	resp := baseResponse(msg, "ask_length")
	resp.Widgets = models.WidgetList{&models.SliderWidget{
		ID:      WidgetLength,
		Title:   "Duration",
		Min:     5,
		Max:     30,
		Step:    5,
		Unit:    "min",
		Default: models.Ptr(10.0),
	}}
	if len(u.Injuries) > 0 {
		resp.Safety.InjuryRisk = true
		resp.Safety.Contraindications = append([]string{}, u.Injuries...)
		resp.CoachMessage = msg + " We'll go easy around your injuries."
	}
	return resp
}

func later(now time.Time) models.TurnResponse {
	resp := baseResponse("No problem. I'll remind you in a couple of hours.", "reminder_set")
	resp.Actions = models.ActionList{&models.ScheduleReminder{
		Kind:  "workout",
		AtISO: now.Add(ReminderDelay).UTC().Format(time.RFC3339),
	}}
	return resp
}

func ready(value any) models.TurnResponse {
	minutes := 10.0
	switch v := value.(type) {
	case float64:
		minutes = v
	case int:
		minutes = float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			minutes = f
		}
	}
	label := strconv.FormatFloat(minutes, 'f', -1, 64)
	resp := baseResponse(fmt.Sprintf("Done: %s minutes. Let's go!", label), "session_ready")
	resp.Actions = models.ActionList{
		&models.StartWorkout{WorkoutID: "mock-" + label},
		&models.LogMetric{MetricType: "planned_minutes", Value: minutes, Unit: "min"},
	}
	return resp
}
