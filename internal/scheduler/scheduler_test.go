package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneTurns(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"* * * * *", DefaultPruneSchedule, "@every 1h"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("AddJob(%q): %v", expr, err)
		}
	}
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("AddJob accepted an invalid expression")
	}
}

func TestPruneJobUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	p := &fakePruner{}
	job := PruneJob(context.Background(), p, 72*time.Hour, func() time.Time { return now })

	job()
	p.err = errors.New("db down")
	job()

	if len(p.cutoffs) != 2 {
		t.Fatalf("PruneTurns calls = %d, want 2", len(p.cutoffs))
	}
	if want := now.Add(-72 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestScheduledJobRuns(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.AddJob("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
