package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimer_ScheduleAndCancel(t *testing.T) {
	st := NewSimpleTimer()
	defer st.Stop()

	fired := make(chan struct{}, 1)
	if _, err := st.ScheduleAfter(10*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cancelled atomic.Bool
	id, _ := st.ScheduleAfter(20*time.Millisecond, func() { cancelled.Store(true) })
	if err := st.Cancel(id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(40 * time.Millisecond)
	if cancelled.Load() {
		t.Error("cancelled callback ran")
	}
	if st.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", st.Pending())
	}
}

func TestSimpleTimer_NilCallback(t *testing.T) {
	if _, err := NewSimpleTimer().ScheduleAfter(time.Second, nil); err == nil {
		t.Error("expected error for nil callback")
	}
}

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string
	m.ScheduleAfter(5*time.Second, func() { order = append(order, "a") })
	m.ScheduleAfter(2*time.Second, func() { order = append(order, "b") })
	id, _ := m.ScheduleAfter(3*time.Second, func() { order = append(order, "c") })
	m.Cancel(id)

	m.Advance(4 * time.Second)
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("expected only b to fire by t=4s, got %v", order)
	}
	m.Advance(time.Second)
	if len(order) != 2 || order[1] != "a" {
		t.Fatalf("expected a to fire at t=5s, got %v", order)
	}
	if m.Elapsed() != 5*time.Second {
		t.Errorf("expected elapsed 5s, got %v", m.Elapsed())
	}
}

func TestManual_CallbackMaySchedule(t *testing.T) {
	m := NewManual()
	count := 0
	m.ScheduleAfter(time.Second, func() {
		count++
		m.ScheduleAfter(time.Second, func() { count++ })
	})
	m.Advance(3 * time.Second)
	if count != 2 {
		t.Errorf("expected chained callbacks to fire, got %d", count)
	}
}
