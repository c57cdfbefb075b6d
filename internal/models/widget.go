package models

import (
	"bytes"
	"encoding/json"
)

// WidgetType is the wire discriminant of a Widget.
type WidgetType string

const (
	WidgetButtons  WidgetType = "buttons"
	WidgetSlider   WidgetType = "slider"
	WidgetNumber   WidgetType = "number"
	WidgetDateTime WidgetType = "date_time"
)

// Widget is a single interactive prompt offered after a turn. The set of
// implementations is closed: *ButtonsWidget, *SliderWidget, *NumberWidget and
// *DateTimeWidget.
type Widget interface {
	WidgetID() string
	WidgetType() WidgetType
	isWidget()
}

// ButtonOption is one selectable choice of a buttons widget.
type ButtonOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ButtonsWidget asks the user to pick one of a fixed set of options.
type ButtonsWidget struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Options []ButtonOption `json:"options"`
}

// SliderWidget asks for a bounded numeric value.
type SliderWidget struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Step    float64  `json:"step"`
	Unit    string   `json:"unit"`
	Default *float64 `json:"default,omitempty"`
}

// NumberWidget asks for a free numeric value with optional bounds.
type NumberWidget struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Step  *float64 `json:"step,omitempty"`
	Unit  *string  `json:"unit,omitempty"`
}

// DateTimeWidget asks for a date, a time, or both, depending on Mode.
type DateTimeWidget struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Mode  string `json:"mode"`
}

func (w *ButtonsWidget) WidgetID() string  { return w.ID }
func (w *SliderWidget) WidgetID() string   { return w.ID }
func (w *NumberWidget) WidgetID() string   { return w.ID }
func (w *DateTimeWidget) WidgetID() string { return w.ID }

func (*ButtonsWidget) WidgetType() WidgetType  { return WidgetButtons }
func (*SliderWidget) WidgetType() WidgetType   { return WidgetSlider }
func (*NumberWidget) WidgetType() WidgetType   { return WidgetNumber }
func (*DateTimeWidget) WidgetType() WidgetType { return WidgetDateTime }

func (*ButtonsWidget) isWidget()  {}
func (*SliderWidget) isWidget()   {}
func (*NumberWidget) isWidget()   {}
func (*DateTimeWidget) isWidget() {}

func (w ButtonsWidget) MarshalJSON() ([]byte, error) {
	type plain ButtonsWidget
	if w.Options == nil {
		w.Options = []ButtonOption{}
	}
	return withTag(string(WidgetButtons), plain(w))
}

func (w SliderWidget) MarshalJSON() ([]byte, error) {
	type plain SliderWidget
	return withTag(string(WidgetSlider), plain(w))
}

func (w NumberWidget) MarshalJSON() ([]byte, error) {
	type plain NumberWidget
	return withTag(string(WidgetNumber), plain(w))
}

func (w DateTimeWidget) MarshalJSON() ([]byte, error) {
	type plain DateTimeWidget
	return withTag(string(WidgetDateTime), plain(w))
}

// HasOption reports whether value is one of the declared option values.
func (w *ButtonsWidget) HasOption(value string) bool {
	for _, o := range w.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// UnmarshalWidget decodes a single widget, dispatching on its "type" field.
// Unrecognised tags fail with a ProtocolError rather than decoding as another variant.
func UnmarshalWidget(data []byte) (Widget, error) {
	tag, fields, err := discriminator("widget", data)
	if err != nil {
		return nil, err
	}
	var w Widget
	switch WidgetType(tag) {
	case WidgetButtons:
		v := &ButtonsWidget{}
		w, err = v, decodeVariant("widget", tag, data, fields, v, "id", "title", "options")
	case WidgetSlider:
		v := &SliderWidget{}
		w, err = v, decodeVariant("widget", tag, data, fields, v, "id", "title", "min", "max", "step", "unit")
	case WidgetNumber:
		v := &NumberWidget{}
		w, err = v, decodeVariant("widget", tag, data, fields, v, "id", "title")
	case WidgetDateTime:
		v := &DateTimeWidget{}
		w, err = v, decodeVariant("widget", tag, data, fields, v, "id", "title", "mode")
	default:
		return nil, &ProtocolError{Code: ProtocolUnknownVariant, Union: "widget", Tag: tag}
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// WidgetList is the ordered widget list of a turn response. The first element is the
// active widget.
type WidgetList []Widget

// First returns the active widget, or nil when the list is empty.
func (l WidgetList) First() Widget {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

func (l WidgetList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Widget(l))
}

func (l *WidgetList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return &ProtocolError{Code: ProtocolMalformed, Union: "widget", Err: err}
	}
	out := make(WidgetList, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		w, err := UnmarshalWidget(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[w.WidgetID()]; dup {
			return &ProtocolError{Code: ProtocolDuplicateWidgetID, Union: "widget", Tag: w.WidgetID()}
		}
		seen[w.WidgetID()] = struct{}{}
		out = append(out, w)
	}
	*l = out
	return nil
}
