package models

import (
	"bytes"
	"encoding/json"
)

// ActionType is the wire discriminant of a CoachAction.
type ActionType string

const (
	ActionOpenTab          ActionType = "open_tab"
	ActionStartWorkout     ActionType = "start_workout"
	ActionScheduleReminder ActionType = "schedule_reminder"
	ActionLogMetric        ActionType = "log_metric"
)

// CoachAction is an instruction for a host collaborator (navigation, reminders,
// metrics). The core forwards actions and never executes them.
type CoachAction interface {
	ActionType() ActionType
	isAction()
}

// OpenTab asks the host to navigate to a named tab.
type OpenTab struct {
	Name string `json:"name"`
}

// StartWorkout asks the host to start a workout.
type StartWorkout struct {
	WorkoutID string `json:"workout_id"`
}

// ScheduleReminder asks the host to schedule a local reminder at AtISO.
type ScheduleReminder struct {
	Kind  string `json:"kind"`
	AtISO string `json:"at_iso"`
}

// LogMetric asks the host to record a metric.
type LogMetric struct {
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
}

func (*OpenTab) ActionType() ActionType          { return ActionOpenTab }
func (*StartWorkout) ActionType() ActionType     { return ActionStartWorkout }
func (*ScheduleReminder) ActionType() ActionType { return ActionScheduleReminder }
func (*LogMetric) ActionType() ActionType        { return ActionLogMetric }

func (*OpenTab) isAction()          {}
func (*StartWorkout) isAction()     {}
func (*ScheduleReminder) isAction() {}
func (*LogMetric) isAction()        {}

func (a OpenTab) MarshalJSON() ([]byte, error) {
	type plain OpenTab
	return withTag(string(ActionOpenTab), plain(a))
}

func (a StartWorkout) MarshalJSON() ([]byte, error) {
	type plain StartWorkout
	return withTag(string(ActionStartWorkout), plain(a))
}

func (a ScheduleReminder) MarshalJSON() ([]byte, error) {
	type plain ScheduleReminder
	return withTag(string(ActionScheduleReminder), plain(a))
}

func (a LogMetric) MarshalJSON() ([]byte, error) {
	type plain LogMetric
	return withTag(string(ActionLogMetric), plain(a))
}

// UnmarshalAction decodes a single action, dispatching on its "type" field.
func UnmarshalAction(data []byte) (CoachAction, error) {
	tag, fields, err := discriminator("action", data)
	if err != nil {
		return nil, err
	}
	var a CoachAction
	switch ActionType(tag) {
	case ActionOpenTab:
		v := &OpenTab{}
		a, err = v, decodeVariant("action", tag, data, fields, v, "name")
	case ActionStartWorkout:
		v := &StartWorkout{}
		a, err = v, decodeVariant("action", tag, data, fields, v, "workout_id")
	case ActionScheduleReminder:
		v := &ScheduleReminder{}
		a, err = v, decodeVariant("action", tag, data, fields, v, "kind", "at_iso")
	case ActionLogMetric:
		v := &LogMetric{}
		a, err = v, decodeVariant("action", tag, data, fields, v, "metric_type", "value", "unit")
	default:
		return nil, &ProtocolError{Code: ProtocolUnknownVariant, Union: "action", Tag: tag}
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ActionList is the ordered action list of a turn response.
type ActionList []CoachAction

func (l ActionList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]CoachAction(l))
}

func (l *ActionList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return &ProtocolError{Code: ProtocolMalformed, Union: "action", Err: err}
	}
	out := make(ActionList, 0, len(raws))
	for _, raw := range raws {
		a, err := UnmarshalAction(raw)
		if err != nil {
			return err
		}
		out = append(out, a)
	}
	*l = out
	return nil
}
