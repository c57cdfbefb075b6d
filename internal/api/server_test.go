package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/coach"
	"github.com/BTreeMap/CoachPipe/internal/fallback"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/mock"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/session"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/timer"
)

type fakePhraser struct {
	text  string
	err   error
	calls int
}

func (f *fakePhraser) Rephrase(ctx context.Context, scripted, intent string, u models.UserState) (string, error) {
	f.calls++
	return f.text, f.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	s := NewServer(append([]Option{WithStore(st), WithRateLimit(1000, 1000)}, opts...)...)
	t.Cleanup(s.Close)
	return s, st
}

func turnBody(t *testing.T, req models.TurnRequest) *bytes.Buffer {
	t.Helper()
	if req.NowISO == "" {
		req.NowISO = "2026-05-01T08:00:00Z"
	}
	if req.UserState.Goals == nil {
		req.UserState = models.DefaultUserState()
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(data)
}

func postTurn(t *testing.T, h http.Handler, device string, req models.TurnRequest) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, coach.TodayPath, turnBody(t, req))
	r.Header.Set("Content-Type", "application/json")
	if device != "" {
		r.Header.Set(coach.DeviceIDHeader, device)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorBody {
	t.Helper()
	var body models.ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestTodayHandlerIssuesWelcome(t *testing.T) {
	s, st := newTestServer(t)
	rr := postTurn(t, s.Handler(), "dev_1", models.TurnRequest{})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	resp, err := models.DecodeTurnResponse(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.TurnID, "turn-") {
		t.Errorf("turn id = %q", resp.TurnID)
	}
	if w := resp.ActiveWidget(); w == nil || w.WidgetID() != mock.WidgetMood {
		t.Errorf("active widget = %v", w)
	}
	if id, _ := st.LastTurnID(context.Background(), "dev_1"); id != resp.TurnID {
		t.Errorf("ledger = %q, want %q", id, resp.TurnID)
	}
}

func TestTodayHandlerTurnChain(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()
	if err := st.SaveTurnID(ctx, "dev_1", "turn-a"); err != nil {
		t.Fatal(err)
	}

	rr := postTurn(t, h, "dev_1", models.TurnRequest{LastTurnID: models.Ptr("turn-b")})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if body := decodeError(t, rr); body.Error != codeTurnMismatch {
		t.Errorf("error = %q", body.Error)
	}
	if id, _ := st.LastTurnID(ctx, "dev_1"); id != "turn-a" {
		t.Errorf("ledger changed on mismatch: %q", id)
	}

	rr = postTurn(t, h, "dev_1", models.TurnRequest{
		LastTurnID: models.Ptr("turn-a"),
		UserReply:  &models.UserReply{WidgetID: mock.WidgetMood, Value: "great"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("matching chain status = %d, body %s", rr.Code, rr.Body.String())
	}

	// A fresh conversation is always accepted.
	if rr := postTurn(t, h, "dev_1", models.TurnRequest{}); rr.Code != http.StatusOK {
		t.Errorf("fresh conversation status = %d", rr.Code)
	}
	// Unknown devices have no chain to break.
	if rr := postTurn(t, h, "dev_2", models.TurnRequest{LastTurnID: models.Ptr("mock-1")}); rr.Code != http.StatusOK {
		t.Errorf("unknown device status = %d", rr.Code)
	}
}

// gatedGenerator holds every Generate call until gate is closed.
type gatedGenerator struct {
	next    Generator
	gate    chan struct{}
	started chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedGenerator) Generate(ctx context.Context, req models.TurnRequest) (models.TurnResponse, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.gate
	return g.next.Generate(ctx, req)
}

func TestTodayHandlerSerializesSameChain(t *testing.T) {
	gen := &gatedGenerator{
		next:    mock.NewEngine(mock.WithTurnIDPrefix("turn-")),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 2),
	}
	s, st := newTestServer(t, WithGenerator(gen))
	h := s.Handler()
	ctx := context.Background()
	if err := st.SaveTurnID(ctx, "dev_1", "turn-a"); err != nil {
		t.Fatal(err)
	}

	req := models.TurnRequest{
		LastTurnID: models.Ptr("turn-a"),
		UserReply:  &models.UserReply{WidgetID: mock.WidgetMood, Value: "great"},
	}
	serve := func(r *http.Request, codes chan<- int) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		codes <- rr.Code
	}
	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, coach.TodayPath, turnBody(t, req))
		r.Header.Set(coach.DeviceIDHeader, "dev_1")
		return r
	}
	first, second := newReq(), newReq()

	codes := make(chan int, 2)
	go serve(first, codes)
	<-gen.started
	go serve(second, codes)
	time.Sleep(20 * time.Millisecond)
	close(gen.gate)

	got := map[int]int{}
	for i := 0; i < 2; i++ {
		got[<-codes]++
	}
	if got[http.StatusOK] != 1 || got[http.StatusConflict] != 1 {
		t.Errorf("status counts = %v, want one 200 and one 409", got)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if n := s.chains.size(); n != 0 {
		t.Errorf("device locks left = %d, want 0", n)
	}
}

func TestTodayHandlerRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	r := httptest.NewRequest(http.MethodPost, coach.TodayPath, strings.NewReader(`{"user_state":`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error != codeBadRequest {
		t.Errorf("bad json: status %d body %s", rr.Code, rr.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, coach.TodayPath, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("GET: status %d allow %q", rr.Code, rr.Header().Get("Allow"))
	}
}

func TestRateLimitPerDevice(t *testing.T) {
	s, _ := newTestServer(t, WithRateLimit(0.001, 1))
	h := s.Handler()

	if rr := postTurn(t, h, "dev_1", models.TurnRequest{}); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr := postTurn(t, h, "dev_1", models.TurnRequest{})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
	if decodeError(t, rr).Error != codeRateLimited {
		t.Errorf("body = %s", rr.Body.String())
	}
	if rr := postTurn(t, h, "dev_2", models.TurnRequest{}); rr.Code != http.StatusOK {
		t.Errorf("other device status = %d", rr.Code)
	}
}

func TestPhraser(t *testing.T) {
	t.Run("rephrases", func(t *testing.T) {
		p := &fakePhraser{text: "Morning! How do you feel?"}
		s, _ := newTestServer(t, WithPhraser(p))
		rr := postTurn(t, s.Handler(), "dev_1", models.TurnRequest{})
		resp, err := models.DecodeTurnResponse(rr.Body.Bytes())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.CoachMessage != p.text {
			t.Errorf("coach message = %q", resp.CoachMessage)
		}
		if resp.Debug == nil || !strings.HasSuffix(resp.Debug.Info, "+genai") {
			t.Errorf("debug = %+v", resp.Debug)
		}
	})

	t.Run("keeps script on failure", func(t *testing.T) {
		p := &fakePhraser{err: errors.New("upstream 500")}
		s, _ := newTestServer(t, WithPhraser(p))
		rr := postTurn(t, s.Handler(), "dev_1", models.TurnRequest{})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		resp, _ := models.DecodeTurnResponse(rr.Body.Bytes())
		if resp.CoachMessage == "" || p.calls != 1 {
			t.Errorf("coach message = %q calls = %d", resp.CoachMessage, p.calls)
		}
	})

	t.Run("quota maps to 402", func(t *testing.T) {
		p := &fakePhraser{err: fmt.Errorf("%w: 429 from upstream", genai.ErrQuotaExceeded)}
		s, st := newTestServer(t, WithPhraser(p))
		rr := postTurn(t, s.Handler(), "dev_1", models.TurnRequest{})
		if rr.Code != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402", rr.Code)
		}
		if decodeError(t, rr).Error != codeInsufficientQuota {
			t.Errorf("body = %s", rr.Body.String())
		}
		if id, _ := st.LastTurnID(context.Background(), "dev_1"); id != "" {
			t.Errorf("ledger recorded failed turn %q", id)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"healthy"`) {
		t.Errorf("healthz = %d %s", rr.Code, rr.Body.String())
	}

	st.Close()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz with closed store = %d", rr.Code)
	}
}

func TestCoachClientAgainstServer(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	client := coach.NewClient(coach.WithBaseURL(ts.URL), coach.WithDeviceID("dev_phone"))
	ctx := context.Background()

	first, err := client.SendTurn(ctx, models.TurnRequest{NowISO: "2026-05-01T08:00:00Z", UserState: models.DefaultUserState()})
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	second, err := client.SendTurn(ctx, models.TurnRequest{
		NowISO:     "2026-05-01T08:00:05Z",
		UserState:  models.DefaultUserState(),
		LastTurnID: models.Ptr(first.TurnID),
		UserReply:  &models.UserReply{WidgetID: mock.WidgetMood, Value: "ok"},
	})
	if err != nil {
		t.Fatalf("SendTurn reply: %v", err)
	}
	if w := second.ActiveWidget(); w == nil || w.WidgetID() != mock.WidgetStartChoice {
		t.Errorf("second widget = %v", w)
	}

	_, err = client.SendTurn(ctx, models.TurnRequest{UserState: models.DefaultUserState(), LastTurnID: models.Ptr(first.TurnID)})
	var cerr *coach.Error
	if !errors.As(err, &cerr) || cerr.Status != http.StatusConflict {
		t.Fatalf("stale chain err = %v, want HTTP 409", err)
	}
}

// A live session whose backend runs out of LLM quota pins itself to the local script.
func TestSessionFallsBackOnBackendQuota(t *testing.T) {
	s, _ := newTestServer(t, WithPhraser(&fakePhraser{err: genai.ErrQuotaExceeded}))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	prefs := store.NewInMemoryStore()
	if err := prefs.SetMode(models.ModeLive); err != nil {
		t.Fatal(err)
	}
	sess := session.New(session.Deps{
		Coach:     coach.NewClient(coach.WithBaseURL(ts.URL), coach.WithDeviceID("dev_phone")),
		Generator: mock.NewEngine(),
		Fallback:  fallback.NewController(prefs, fallback.WithTimer(timer.NewManual())),
	})
	defer sess.Close()

	if err := sess.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := sess.Snapshot()
	if !snap.Pinned || snap.Banner != fallback.NoticeBilling.Text() {
		t.Errorf("pinned = %v banner = %q", snap.Pinned, snap.Banner)
	}
	if !strings.HasPrefix(snap.LastTurnID, "mock-") {
		t.Errorf("last turn id = %q, want local mock turn", snap.LastTurnID)
	}
}
