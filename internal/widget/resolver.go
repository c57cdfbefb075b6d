// Package widget validates user replies against the active widget and converts them
// into the typed value sent back to the coaching backend.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("widget reply validation failed")

// Date/time layouts accepted in addition to RFC 3339, keyed by widget mode.
var modeLayouts = map[string][]string{
	"date": {"2006-01-02"},
	"time": {"15:04", "15:04:05"},
}

// ValidationError reports a reply that does not fit the active widget.
type ValidationError struct {
	WidgetID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.WidgetID == "" {
		return "widget: " + e.Reason
	}
	return fmt.Sprintf("widget %q: %s", e.WidgetID, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(id, format string, args ...any) error {
	return &ValidationError{WidgetID: id, Reason: fmt.Sprintf(format, args...)}
}

// Resolve checks raw against w and returns the value to forward. Numeric replies are
// clamped and snapped to the widget's grid rather than rejected.
func Resolve(w models.Widget, raw any) (any, error) {
	if w == nil {
		return nil, invalid("", "no active widget")
	}
	switch w := w.(type) {
	case *models.ButtonsWidget:
		return resolveButtons(w, raw)
	case *models.SliderWidget:
		v, err := toFloat(raw)
		if err != nil {
			return nil, invalid(w.ID, "slider reply: %v", err)
		}
		out := clampStep(v, &w.Min, &w.Max, &w.Step)
		if out != v {
			slog.Debug("widget.Resolve: slider reply adjusted", "widget_id", w.ID, "raw", v, "resolved", out)
		}
		return out, nil
	case *models.NumberWidget:
		v, err := toFloat(raw)
		if err != nil {
			return nil, invalid(w.ID, "number reply: %v", err)
		}
		return clampStep(v, w.Min, w.Max, w.Step), nil
	case *models.DateTimeWidget:
		return resolveDateTime(w, raw)
	default:
		return nil, invalid(w.WidgetID(), "unsupported widget type %q", w.WidgetType())
	}
}

func resolveButtons(w *models.ButtonsWidget, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(w.ID, "buttons reply must be a string, got %T", raw)
	}
	if !w.HasOption(s) {
		return nil, invalid(w.ID, "%q is not one of the offered options", s)
	}
	return s, nil
}

func resolveDateTime(w *models.DateTimeWidget, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(w.ID, "date_time reply must be a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return s, nil
	}
	for _, layout := range modeLayouts[w.Mode] {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	return nil, invalid(w.ID, "%q is not a valid %s value", s, w.Mode)
}

// gridEpsilon absorbs float error when testing whether a bound sits on the step grid.
const gridEpsilon = 1e-9

// clampStep returns the valid value nearest v: within whichever bounds are present
// and on the step grid anchored at min (or zero). When max is off the grid the top
// valid value is the last step below it.
func clampStep(v float64, min, max, step *float64) float64 {
	if min != nil && v < *min {
		v = *min
	}
	if max != nil && v > *max {
		v = *max
	}
	if step == nil || *step <= 0 {
		return v
	}
	origin := 0.0
	if min != nil {
		origin = *min
	}
	s := *step
	n := math.Round((v - origin) / s)
	if max != nil && origin+n*s > *max+gridEpsilon {
		n = math.Floor((*max-origin)/s + gridEpsilon)
	}
	if min != nil && n < 0 {
		n = 0
	}
	return roundNoise(origin + n*s)
}

// roundNoise trims binary float error so 0.1-sized steps encode as 0.3, not
// 0.30000000000000004.
func roundNoise(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func toFloat(raw any) (float64, error) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		v = f
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return v, nil
}
