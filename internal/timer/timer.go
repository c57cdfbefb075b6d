// Package timer schedules delayed callbacks such as banner expiry.
package timer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Scheduler runs a function once after a delay.
type Scheduler interface {
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	Cancel(id string) error
	Stop()
}

type entry struct {
	timer     *time.Timer
	expiresAt time.Time
}

// SimpleTimer implements Scheduler with time.AfterFunc.
type SimpleTimer struct {
	mu     sync.Mutex
	timers map[string]*entry
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*entry)}
}

// ScheduleAfter schedules fn to run after delay and returns an id usable with Cancel.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("timer: nil callback")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	t.timers[id] = &entry{
		expiresAt: time.Now().Add(delay),
		timer: time.AfterFunc(delay, func() {
			t.mu.Lock()
			delete(t.timers, id)
			t.mu.Unlock()
			slog.Debug("SimpleTimer firing", "id", id)
			fn()
		}),
	}
	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)
	return id, nil
}

// Cancel stops a pending callback. Unknown ids are ignored.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.timers[id]; ok {
		e.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel", "id", id)
	}
	return nil
}

// Stop cancels every pending callback.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.timers {
		e.timer.Stop()
	}
	slog.Debug("SimpleTimer stopped", "count", len(t.timers))
	t.timers = make(map[string]*entry)
}

// Pending returns the number of callbacks not yet fired.
func (t *SimpleTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Manual is a Scheduler driven by Advance instead of wall-clock time. Callbacks run
// synchronously on the goroutine calling Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  int64
	pending map[string]manualEntry
}

type manualEntry struct {
	at  time.Duration
	seq int64
	fn  func()
}

// NewManual creates a Manual scheduler at elapsed time zero.
func NewManual() *Manual {
	return &Manual{pending: make(map[string]manualEntry)}
}

func (m *Manual) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("timer: nil callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("manual_%d", m.nextID)
	m.pending[id] = manualEntry{at: m.now + delay, seq: m.nextID, fn: fn}
	return id, nil
}

func (m *Manual) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]manualEntry)
}

// Elapsed reports how far the manual clock has advanced.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, firing due callbacks in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var dueID string
		var due manualEntry
		ids := make([]string, 0, len(m.pending))
		for id := range m.pending {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			a, b := m.pending[ids[i]], m.pending[ids[j]]
			if a.at != b.at {
				return a.at < b.at
			}
			return a.seq < b.seq
		})
		if len(ids) > 0 && m.pending[ids[0]].at <= target {
			dueID, due = ids[0], m.pending[ids[0]]
			delete(m.pending, dueID)
			m.now = due.at
		}
		if dueID == "" {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		due.fn()
	}
}
