package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority tags how prominently the host should render a coach message.
// Values outside the known set are carried through unchanged.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// UserReply is the user's answer to the active widget.
type UserReply struct {
	WidgetID string `json:"widget_id"`
	Value    any    `json:"value"`
}

// TurnRequest is the body of POST /api/coach/today.
type TurnRequest struct {
	AppVersion   string     `json:"app_version"`
	DeviceLocale string     `json:"device_locale"`
	Timezone     string     `json:"timezone"`
	NowISO       string     `json:"now_iso"`
	UserState    UserState  `json:"user_state"`
	LastTurnID   *string    `json:"last_turn_id"`
	UserReply    *UserReply `json:"user_reply,omitempty"`
}

// Now parses NowISO, falling back to the zero time when it is malformed.
func (r TurnRequest) Now() time.Time {
	t, err := time.Parse(time.RFC3339, r.NowISO)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SafetyFlags gate rendering of risky suggestions. The core passes them through unchanged.
type SafetyFlags struct {
	InjuryRisk          bool     `json:"injury_risk"`
	NeedsMedicalCaution bool     `json:"needs_medical_caution"`
	Contraindications   []string `json:"contraindications"`
}

func (s SafetyFlags) MarshalJSON() ([]byte, error) {
	type plain SafetyFlags
	if s.Contraindications == nil {
		s.Contraindications = []string{}
	}
	return json.Marshal(plain(s))
}

// DebugInfo carries backend diagnostics.
type DebugInfo struct {
	Info string `json:"info"`
}

// TurnResponse is the backend's answer to a TurnRequest. TurnID must be sent back
// as LastTurnID on the next request.
type TurnResponse struct {
	TurnID       string      `json:"turn_id"`
	CoachMessage string      `json:"coach_message"`
	Priority     Priority    `json:"priority"`
	NextIntent   string      `json:"next_intent"`
	Widgets      WidgetList  `json:"widgets"`
	Actions      ActionList  `json:"actions"`
	Safety       SafetyFlags `json:"safety"`
	Debug        *DebugInfo  `json:"debug,omitempty"`
}

// ActiveWidget returns the first widget of the response, or nil.
func (r TurnResponse) ActiveWidget() Widget {
	return r.Widgets.First()
}

// DecodeTurnResponse decodes a response body, requiring a non-empty turn id.
func DecodeTurnResponse(data []byte) (TurnResponse, error) {
	var resp TurnResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return TurnResponse{}, err
	}
	if resp.TurnID == "" {
		return TurnResponse{}, &ProtocolError{Code: ProtocolMalformed, Union: "turn", Err: fmt.Errorf("missing turn_id")}
	}
	return resp, nil
}
