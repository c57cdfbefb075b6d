// Package models defines the wire protocol shared by the coaching client and backend.
//
// It includes the per-turn request/response envelopes, the Widget and CoachAction
// tagged unions, and the conversation Card shown to the user.
package models

// Default values used when no profile data is available.
const (
	DefaultGoal          = "health"
	DefaultTrainingPlace = "home"
)

// UserState is a snapshot of the person being coached. It is owned by the host
// and passed by value into each turn request.
type UserState struct {
	Goals               []string `json:"goals"`
	TrainingPlace       string   `json:"training_place"`
	Equipment           []string `json:"equipment"`
	Sex                 *string  `json:"sex,omitempty"`
	Age                 *int     `json:"age,omitempty"`
	HeightCM            *float64 `json:"height_cm,omitempty"`
	WeightKG            *float64 `json:"weight_kg,omitempty"`
	Injuries            []string `json:"injuries"`
	Pregnant            *bool    `json:"pregnant,omitempty"`
	Lactating           *bool    `json:"lactating,omitempty"`
	CyclePhase          *string  `json:"cycle_phase,omitempty"`
	SleepHoursLastNight *float64 `json:"sleep_hours_last_night,omitempty"`
	StepsToday          *int     `json:"steps_today,omitempty"`
	RestingHeartRate    *float64 `json:"resting_heart_rate,omitempty"`
	LastWorkoutSummary  *string  `json:"last_workout_summary,omitempty"`
}

// DefaultUserState returns the state used before the host knows anything about the user.
func DefaultUserState() UserState {
	return UserState{
		Goals:         []string{DefaultGoal},
		TrainingPlace: DefaultTrainingPlace,
		Equipment:     []string{},
		Injuries:      []string{},
	}
}

// Clone returns a deep copy so callers can hand the snapshot around without aliasing.
func (u UserState) Clone() UserState {
	out := u
	out.Goals = append([]string(nil), u.Goals...)
	out.Equipment = append([]string(nil), u.Equipment...)
	out.Injuries = append([]string(nil), u.Injuries...)
	out.Sex = clonePtr(u.Sex)
	out.Age = clonePtr(u.Age)
	out.HeightCM = clonePtr(u.HeightCM)
	out.WeightKG = clonePtr(u.WeightKG)
	out.Pregnant = clonePtr(u.Pregnant)
	out.Lactating = clonePtr(u.Lactating)
	out.CyclePhase = clonePtr(u.CyclePhase)
	out.SleepHoursLastNight = clonePtr(u.SleepHoursLastNight)
	out.StepsToday = clonePtr(u.StepsToday)
	out.RestingHeartRate = clonePtr(u.RestingHeartRate)
	out.LastWorkoutSummary = clonePtr(u.LastWorkoutSummary)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for optional wire fields.
func Ptr[T any](v T) *T {
	return &v
}
