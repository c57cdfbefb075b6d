package coach

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const okBody = `{"turn_id":"t-9","coach_message":"Hi","priority":"normal","next_intent":"daily_checkin",
 "widgets":[{"type":"buttons","id":"mood","title":"Mood","options":[{"label":"Great","value":"great"}]}],
 "actions":[],"safety":{"injury_risk":false,"needs_medical_caution":false,"contraindications":[]}}`

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

func TestSendTurn_Success(t *testing.T) {
	var got models.TurnRequest
	var device string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != TodayPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		device = r.Header.Get(DeviceIDHeader)
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, okBody)
	}, WithDeviceID("phone-1"))

	req := models.TurnRequest{
		AppVersion: "1.0",
		UserState:  models.DefaultUserState(),
		LastTurnID: models.Ptr("t-8"),
		UserReply:  &models.UserReply{WidgetID: "mood", Value: "great"},
	}
	resp, err := c.SendTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TurnID != "t-9" || resp.ActiveWidget().WidgetID() != "mood" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if device != "phone-1" {
		t.Errorf("expected device header, got %q", device)
	}
	if got.LastTurnID == nil || *got.LastTurnID != "t-8" || got.UserReply == nil || got.UserReply.Value != "great" {
		t.Errorf("unexpected request sent: %+v", got)
	}
}

func TestSendTurn_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error":"insufficient_quota"}`)
	})
	_, err := c.SendTurn(context.Background(), models.TurnRequest{})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindHTTP {
		t.Fatalf("expected http error, got %v", err)
	}
	if cerr.Status != http.StatusPaymentRequired || cerr.Body != `{"error":"insufficient_quota"}` {
		t.Errorf("unexpected error detail: %+v", cerr)
	}
	if !errors.Is(err, ErrHTTP) {
		t.Error("expected errors.Is(err, ErrHTTP)")
	}
}

func TestSendTurn_DecodeErrors(t *testing.T) {
	bodies := map[string]string{
		"not json":       `<html>oops</html>`,
		"unknown widget": `{"turn_id":"t","widgets":[{"type":"wheel","id":"x"}],"actions":[]}`,
		"missing turn":   `{"coach_message":"hi","widgets":[],"actions":[]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			})
			_, err := c.SendTurn(context.Background(), models.TurnRequest{})
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected decode error, got %v", err)
			}
		})
	}
}

func TestSendTurn_UnknownVariantIsWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"turn_id":"t","widgets":[],"actions":[{"type":"teleport"}]}`)
	})
	_, err := c.SendTurn(context.Background(), models.TurnRequest{})
	if !errors.Is(err, models.ErrUnknownVariant) {
		t.Errorf("expected wrapped ErrUnknownVariant, got %v", err)
	}
}

func TestSendTurn_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	start := time.Now()
	_, err := c.SendTurn(context.Background(), models.TurnRequest{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestSendTurn_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(WithBaseURL(url), WithTimeout(time.Second))
	_, err := c.SendTurn(context.Background(), models.TurnRequest{})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(WithBaseURL("http://coach.example/"), WithTimeout(-1))
	if c.Endpoint() != "http://coach.example/api/coach/today" {
		t.Errorf("unexpected endpoint %s", c.Endpoint())
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", c.timeout)
	}
}
