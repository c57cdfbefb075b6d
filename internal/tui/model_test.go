package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/session"
	"github.com/BTreeMap/CoachPipe/internal/widget"
)

type reply struct {
	widgetID string
	value    any
}

type fakeSession struct {
	snap      session.Snapshot
	refreshes int
	replies   []reply
	modes     []models.Mode
	retries   int
	replyErr  error
}

func (f *fakeSession) Refresh(context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeSession) SubmitReply(_ context.Context, widgetID string, value any) error {
	f.replies = append(f.replies, reply{widgetID, value})
	return f.replyErr
}

func (f *fakeSession) SetMode(_ context.Context, mode models.Mode) error {
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeSession) RetryLive(context.Context) error {
	f.retries++
	return nil
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }

func (f *fakeSession) Subscribe(func(session.Snapshot)) func() { return func() {} }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	case "ctrl+l":
		return tea.KeyMsg{Type: tea.KeyCtrlL}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends k and runs the resulting command, feeding its message back in.
func press(t *testing.T, m *Model, k string) {
	t.Helper()
	_, cmd := m.Update(key(k))
	if cmd != nil {
		m.Update(cmd())
	}
}

func moodSnapshot() session.Snapshot {
	return session.Snapshot{
		State:      session.StateAwaitingInput,
		Mode:       models.ModeMock,
		LastTurnID: "mock-1",
		Cards: []models.Card{
			{ID: "card_1", Role: models.CardRoleCoach, Text: "How are you feeling today?"},
		},
		ActiveWidget: &models.ButtonsWidget{ID: "mood", Title: "Mood", Options: []models.ButtonOption{
			{Label: "Great", Value: "great"},
			{Label: "OK", Value: "ok"},
			{Label: "Tired", Value: "tired"},
		}},
	}
}

func TestInitRefreshes(t *testing.T) {
	f := &fakeSession{}
	m := NewModel(context.Background(), f)
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("Init returned no command")
	}
	m.Update(cmd())
	if f.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", f.refreshes)
	}
}

func TestButtonsSelection(t *testing.T) {
	f := &fakeSession{snap: moodSnapshot()}
	m := NewModel(context.Background(), f)

	press(t, m, "down")
	press(t, m, "down")
	press(t, m, "down")
	if m.cursor != 2 {
		t.Fatalf("cursor = %d, want clamped 2", m.cursor)
	}
	press(t, m, "enter")
	if len(f.replies) != 1 || f.replies[0] != (reply{"mood", "tired"}) {
		t.Errorf("replies = %+v", f.replies)
	}
}

func TestSliderAdjustsWithinBounds(t *testing.T) {
	f := &fakeSession{snap: session.Snapshot{
		State:        session.StateAwaitingInput,
		LastTurnID:   "mock-2",
		ActiveWidget: &models.SliderWidget{ID: "length", Title: "Duration", Min: 5, Max: 30, Step: 5, Unit: "min", Default: models.Ptr(10.0)},
	}}
	m := NewModel(context.Background(), f)
	if m.slider != 10 {
		t.Fatalf("slider = %v, want default 10", m.slider)
	}
	for i := 0; i < 10; i++ {
		press(t, m, "right")
	}
	if m.slider != 30 {
		t.Errorf("slider = %v, want max 30", m.slider)
	}
	press(t, m, "left")
	press(t, m, "enter")
	if len(f.replies) != 1 || f.replies[0].value != 25.0 {
		t.Errorf("replies = %+v", f.replies)
	}
}

func TestTextInputAndValidationError(t *testing.T) {
	f := &fakeSession{
		snap: session.Snapshot{
			State:        session.StateAwaitingInput,
			LastTurnID:   "t1",
			ActiveWidget: &models.NumberWidget{ID: "weight", Title: "Weight", Unit: models.Ptr("kg")},
		},
		replyErr: &widget.ValidationError{WidgetID: "weight", Reason: "not a number"},
	}
	m := NewModel(context.Background(), f)

	press(t, m, "7")
	press(t, m, "x")
	press(t, m, "24")
	press(t, m, "backspace")
	if m.input != "72" {
		t.Fatalf("input = %q, want 72", m.input)
	}
	press(t, m, "enter")
	if len(f.replies) != 1 || f.replies[0].value != "72" {
		t.Errorf("replies = %+v", f.replies)
	}
	if !strings.Contains(m.View(), "not a number") {
		t.Errorf("validation error not shown:\n%s", m.View())
	}
}

func TestStaleReplyIsNotShownAsError(t *testing.T) {
	f := &fakeSession{snap: moodSnapshot(), replyErr: session.ErrStaleReply}
	m := NewModel(context.Background(), f)
	press(t, m, "enter")
	if m.err != "" {
		t.Errorf("err = %q, want none for stale reply", m.err)
	}
}

func TestToggleMode(t *testing.T) {
	f := &fakeSession{snap: moodSnapshot()}
	m := NewModel(context.Background(), f)
	press(t, m, "ctrl+t")
	if len(f.modes) != 1 || f.modes[0] != models.ModeLive {
		t.Errorf("modes = %v, want [live]", f.modes)
	}
}

func TestRetryLiveOnlyWhenPinned(t *testing.T) {
	f := &fakeSession{snap: moodSnapshot()}
	m := NewModel(context.Background(), f)
	press(t, m, "ctrl+l")
	if f.retries != 0 {
		t.Fatalf("retries = %d while not pinned, want 0", f.retries)
	}

	f.snap.Mode = models.ModeLive
	f.snap.Pinned = true
	m.Update(SnapshotMsg(f.snap))
	press(t, m, "ctrl+l")
	if f.retries != 1 || len(f.modes) != 0 {
		t.Errorf("retries = %d modes = %v; want one retry and no mode change", f.retries, f.modes)
	}
}

func TestNewWidgetResetsCursor(t *testing.T) {
	f := &fakeSession{snap: moodSnapshot()}
	m := NewModel(context.Background(), f)
	press(t, m, "down")

	next := moodSnapshot()
	next.LastTurnID = "mock-2"
	next.ActiveWidget = &models.ButtonsWidget{ID: "start_choice", Options: []models.ButtonOption{{Label: "Start", Value: "start"}}}
	m.Update(SnapshotMsg(next))
	if m.cursor != 0 {
		t.Errorf("cursor = %d after new widget, want 0", m.cursor)
	}
}

func TestViewShowsBannerCardsAndActions(t *testing.T) {
	snap := moodSnapshot()
	snap.Banner = "Server unavailable. Switched to mock."
	snap.Pinned = true
	snap.Mode = models.ModeLive
	snap.Safety = models.SafetyFlags{InjuryRisk: true, Contraindications: []string{"knee"}}
	f := &fakeSession{snap: snap}
	m := NewModel(context.Background(), f)
	m.Update(ActionMsg{Action: &models.ScheduleReminder{Kind: "workout", AtISO: "2026-05-01T10:00:00Z"}})

	view := m.View()
	for _, want := range []string{
		"Server unavailable. Switched to mock.",
		"How are you feeling today?",
		"Great",
		"using mock until mode change",
		"knee",
		"workout reminder at 2026-05-01T10:00:00Z",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestEscQuits(t *testing.T) {
	m := NewModel(context.Background(), &fakeSession{})
	_, cmd := m.Update(key("esc"))
	if cmd == nil {
		t.Fatal("esc returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("esc did not quit")
	}
}

func TestSessionErrorShown(t *testing.T) {
	snap := moodSnapshot()
	snap.State = session.StateError
	snap.Error = "keychain locked"
	m := NewModel(context.Background(), &fakeSession{snap: snap})
	if !strings.Contains(m.View(), "keychain locked") {
		t.Error("session error not rendered")
	}
}
