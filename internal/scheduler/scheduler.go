// Package scheduler runs periodic backend maintenance on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs ledger pruning once a day.
const DefaultPruneSchedule = "@daily"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Expressions use the standard
// five fields plus descriptors such as @daily and @every 1h.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task using expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// LedgerPruner is the slice of store.Store the prune job needs.
type LedgerPruner interface {
	PruneTurns(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob returns a job that forgets devices idle for longer than retention.
func PruneJob(ctx context.Context, p LedgerPruner, retention time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		cutoff := now().Add(-retention)
		n, err := p.PruneTurns(ctx, cutoff)
		if err != nil {
			slog.Error("scheduler.PruneJob: prune failed", "error", err, "cutoff", cutoff)
			return
		}
		slog.Info("scheduler.PruneJob: pruned turn ledger", "removed", n, "cutoff", cutoff)
	}
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
