package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs the weekly corpus fetch and the daily pipeline.
type Scheduler struct {
	fetch    Job
	run      Job
	fetchInt time.Duration
	runInt   time.Duration
	logger   *slog.Logger
}

// New creates a new scheduler.
func New(fetch, run Job, fetchInt, runInt time.Duration, logger *slog.Logger) *Scheduler {
	if fetchInt == 0 {
		fetchInt = 7 * 24 * time.Hour
	}
	if runInt == 0 {
		runInt = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetch:    fetch,
		run:      run,
		fetchInt: fetchInt,
		runInt:   runInt,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	fetchTicker := time.NewTicker(s.fetchInt)
	runTicker := time.NewTicker(s.runInt)
	defer fetchTicker.Stop()
	defer runTicker.Stop()

	// Run immediately on start so a fresh install has data.
	s.do(ctx, "fetch", s.fetch)
	s.do(ctx, "run", s.run)

	s.logger.Info("running", "fetch_every", s.fetchInt.String(), "run_every", s.runInt.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-fetchTicker.C:
			s.do(ctx, "fetch", s.fetch)
		case <-runTicker.C:
			s.do(ctx, "run", s.run)
		}
	}
}

func (s *Scheduler) do(ctx context.Context, name string, job Job) {
	if job == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("job finished", "job", name, "took", time.Since(start).Round(time.Millisecond).String())
}
