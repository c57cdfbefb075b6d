// Package health defines the sensor collaborator that feeds activity data into the
// coaching UserState. Real device integrations live outside this module.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrNotAuthorized is returned when the user has not granted access to health data.
var ErrNotAuthorized = errors.New("health: access not authorized")

// Provider reads today's health signals.
type Provider interface {
	RequestAuthorization(ctx context.Context) (bool, error)
	StepsToday(ctx context.Context) (int, error)
	// SleepHoursLastNight returns nil when no sleep was recorded.
	SleepHoursLastNight(ctx context.Context) (*float64, error)
	RestingHeartRate(ctx context.Context) (*float64, error)
}

// StaticProvider returns fixed readings. It backs demos and tests.
type StaticProvider struct {
	mu         sync.Mutex
	Authorized bool
	Steps      int
	Sleep      *float64
	RestingHR  *float64
}

func (p *StaticProvider) RequestAuthorization(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Authorized, nil
}

func (p *StaticProvider) StepsToday(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Authorized {
		return 0, ErrNotAuthorized
	}
	return p.Steps, nil
}

func (p *StaticProvider) SleepHoursLastNight(context.Context) (*float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Authorized {
		return nil, ErrNotAuthorized
	}
	return p.Sleep, nil
}

func (p *StaticProvider) RestingHeartRate(context.Context) (*float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Authorized {
		return nil, ErrNotAuthorized
	}
	return p.RestingHR, nil
}

// BuildUserState copies base and fills today's steps, last night's sleep and the
// resting heart rate from p.
// Readings that fail are left as they were in base; the coach treats them as unknown.
func BuildUserState(ctx context.Context, p Provider, base models.UserState) models.UserState {
	u := base.Clone()
	if p == nil {
		return u
	}
	ok, err := p.RequestAuthorization(ctx)
	if err != nil || !ok {
		slog.Debug("health.BuildUserState: health data unavailable", "authorized", ok, "error", err)
		return u
	}

	if steps, err := p.StepsToday(ctx); err != nil {
		slog.Warn("health.BuildUserState: reading steps failed", "error", err)
	} else {
		u.StepsToday = models.Ptr(steps)
	}

	if sleep, err := p.SleepHoursLastNight(ctx); err != nil {
		slog.Warn("health.BuildUserState: reading sleep failed", "error", err)
	} else if sleep != nil {
		u.SleepHoursLastNight = models.Ptr(*sleep)
	}

	if hr, err := p.RestingHeartRate(ctx); err != nil {
		slog.Warn("health.BuildUserState: reading resting heart rate failed", "error", err)
	} else if hr != nil {
		u.RestingHeartRate = models.Ptr(*hr)
	}
	return u
}

// Source adapts a Provider and a base profile into a per-turn state function.
func Source(p Provider, base models.UserState) func(ctx context.Context) models.UserState {
	return func(ctx context.Context) models.UserState {
		return BuildUserState(ctx, p, base)
	}
}
