// Package tui hosts a coaching session in the terminal. It drives the session only
// through its public operations and renders the snapshots it publishes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/session"
)

// Controller is the part of *session.Session the UI needs.
type Controller interface {
	Refresh(ctx context.Context) error
	SubmitReply(ctx context.Context, widgetID string, value any) error
	SetMode(ctx context.Context, mode models.Mode) error
	RetryLive(ctx context.Context) error
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// SnapshotMsg carries a session snapshot into the program.
type SnapshotMsg session.Snapshot

// ActionMsg carries a coach action forwarded by the session.
type ActionMsg struct {
	Action models.CoachAction
}

// turnDoneMsg reports the result of a session operation.
type turnDoneMsg struct {
	op  string
	err error
}

// maxActionLog bounds the action log shown under the transcript.
const maxActionLog = 5

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	sess Controller
	snap session.Snapshot

	widgetKey string
	cursor    int
	slider    float64
	input     string

	actions []string
	err     string
	width   int
	height  int
}

// NewModel creates a Model showing the session's current snapshot.
func NewModel(ctx context.Context, sess Controller) *Model {
	m := &Model{ctx: ctx, sess: sess, width: 80, height: 24}
	m.applySnapshot(sess.Snapshot())
	return m
}

// NewProgram creates the terminal program and subscribes it to sess.
func NewProgram(ctx context.Context, sess Controller, opts ...tea.ProgramOption) *tea.Program {
	m := NewModel(ctx, sess)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	sess.Subscribe(func(s session.Snapshot) { p.Send(SnapshotMsg(s)) })
	return p
}

// Init loads the first turn.
func (m *Model) Init() tea.Cmd {
	return m.refresh()
}

// Update handles messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.applySnapshot(session.Snapshot(msg))
		return m, nil

	case ActionMsg:
		m.actions = append(m.actions, describeAction(msg.Action))
		if len(m.actions) > maxActionLog {
			m.actions = m.actions[len(m.actions)-maxActionLog:]
		}
		return m, nil

	case turnDoneMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, session.ErrStaleReply), errors.Is(msg.err, session.ErrBusy):
			m.err = ""
		default:
			// Turn failures already show through the snapshot; this catches
			// validation and preference errors that never reach it.
			m.err = fmt.Sprintf("%s: %v", msg.op, msg.err)
		}
		m.applySnapshot(m.sess.Snapshot())
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}
	return m, nil
}

func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "ctrl+r":
		return m, m.refresh()
	case "ctrl+t":
		next := models.ModeLive
		if m.snap.Mode == models.ModeLive {
			next = models.ModeMock
		}
		return m, m.setMode(next)
	case "ctrl+l":
		if !m.snap.Pinned {
			return m, nil
		}
		return m, m.retryLive()
	}

	if m.snap.Loading {
		return m, nil
	}

	switch w := m.snap.ActiveWidget.(type) {
	case *models.ButtonsWidget:
		switch msg.String() {
		case "up", "left", "k", "h":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "right", "j", "l", "tab":
			if m.cursor < len(w.Options)-1 {
				m.cursor++
			}
		case "enter", " ":
			if len(w.Options) > 0 {
				return m, m.submit(w.ID, w.Options[m.cursor].Value)
			}
		}
	case *models.SliderWidget:
		step := w.Step
		if step <= 0 {
			step = 1
		}
		switch msg.String() {
		case "left", "down", "h", "j", "-":
			m.slider = math.Max(w.Min, m.slider-step)
		case "right", "up", "l", "k", "+":
			m.slider = math.Min(w.Max, m.slider+step)
		case "enter":
			return m, m.submit(w.ID, m.slider)
		}
	case *models.NumberWidget, *models.DateTimeWidget:
		switch msg.Type {
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case tea.KeyEnter:
			return m, m.submit(w.WidgetID(), m.input)
		case tea.KeyRunes:
			for _, r := range msg.Runes {
				if strings.ContainsRune("0123456789.-:+TZ", r) {
					m.input += string(r)
				}
			}
		}
	default:
		if msg.String() == "enter" {
			return m, m.refresh()
		}
	}
	return m, nil
}

// applySnapshot stores s and resets widget input when a new widget arrives.
func (m *Model) applySnapshot(s session.Snapshot) {
	m.snap = s
	key := ""
	if s.ActiveWidget != nil {
		key = s.LastTurnID + "/" + s.ActiveWidget.WidgetID()
	}
	if key == m.widgetKey {
		return
	}
	m.widgetKey = key
	m.cursor = 0
	m.input = ""
	if sw, ok := s.ActiveWidget.(*models.SliderWidget); ok {
		m.slider = sw.Min
		if sw.Default != nil {
			m.slider = *sw.Default
		}
	}
}

func (m *Model) refresh() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		return turnDoneMsg{op: "refresh", err: sess.Refresh(ctx)}
	}
}

func (m *Model) submit(widgetID string, value any) tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		return turnDoneMsg{op: "reply", err: sess.SubmitReply(ctx, widgetID, value)}
	}
}

func (m *Model) setMode(mode models.Mode) tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		return turnDoneMsg{op: "mode", err: sess.SetMode(ctx, mode)}
	}
}

func (m *Model) retryLive() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		return turnDoneMsg{op: "retry", err: sess.RetryLive(ctx)}
	}
}

func describeAction(a models.CoachAction) string {
	switch a := a.(type) {
	case *models.OpenTab:
		return "open tab " + a.Name
	case *models.StartWorkout:
		return "start workout " + a.WorkoutID
	case *models.ScheduleReminder:
		return fmt.Sprintf("%s reminder at %s", a.Kind, a.AtISO)
	case *models.LogMetric:
		return fmt.Sprintf("log %s = %g %s", a.MetricType, a.Value, a.Unit)
	default:
		return fmt.Sprintf("%T", a)
	}
}
