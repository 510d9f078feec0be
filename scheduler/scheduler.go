package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic maintenance jobs (cache sweeps, catalog reloads).
type Scheduler struct {
	cron *cron.Cron
}

// New creates a started Scheduler whose cron log goes to slog.
func New() *Scheduler {
	c := cron.New(
		cron.WithLogger(slogLogger{}),
		cron.WithChain(cron.Recover(slogLogger{})),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// Every registers callback under a cron spec such as "@every 2m" or
// "*/5 * * * *". Runs of one job never overlap.
func (s *Scheduler) Every(name, spec string, callback func()) error {
	job := cron.NewChain(cron.SkipIfStillRunning(slogLogger{})).Then(cron.FuncJob(callback))
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	slog.Info("scheduled job", "job", name, "spec", spec)
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
