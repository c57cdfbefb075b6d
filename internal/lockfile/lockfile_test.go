package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, ":8080")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	h := readHolder(filepath.Join(dir, LockFileName))
	if h.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", h.PID, os.Getpid())
	}
	if h.Listen != ":8080" {
		t.Errorf("Listen = %q", h.Listen)
	}
	if h.Started == "" || !h.Running {
		t.Errorf("unexpected holder: %+v", h)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, ":8080")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir, ":9090")
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("err = %T, want *LockError", err)
	}
	if lockErr.Holder.Listen != ":8080" {
		t.Errorf("holder listen = %q; the loser must not overwrite it", lockErr.Holder.Listen)
	}
	msg := err.Error()
	if !strings.Contains(msg, dir) || !strings.Contains(msg, "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("error lacks path or pid: %s", msg)
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	again, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := Acquire(dir, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		listen  string
	}{
		{"full", "pid=12345\nlisten=:8080\nstarted=2026-05-01T08:00:00Z\n", 12345, ":8080"},
		{"pid only", "pid=67890", 67890, ""},
		{"garbage pid", "pid=abc\nlisten=:1", 0, ":1"},
		{"empty", "", 0, ""},
		{"no separator", "pid12345", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(strings.NewReader(tt.content))
			if h.PID != tt.pid || h.Listen != tt.listen {
				t.Errorf("parseHolder = %+v, want pid %d listen %q", h, tt.pid, tt.listen)
			}
		})
	}
}

func TestHolderString(t *testing.T) {
	if got := (Holder{}).String(); got != "unknown process" {
		t.Errorf("zero Holder = %q", got)
	}
	got := Holder{PID: 42, Listen: ":8080"}.String()
	if !strings.Contains(got, "pid 42") || !strings.Contains(got, "stale") || !strings.Contains(got, ":8080") {
		t.Errorf("Holder.String() = %q", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process should be running")
	}
}
