// Package worker implements the Background Worker (C11): cooperative
// periodic jobs, each with its own cadence and an idempotent body.
// Grounded on wisbric-nightowl/pkg/escalation/engine.go's Engine.Run
// ticker+select loop, generalized from a single fixed interval to one
// ticker per named job (spec.md §4.11's per-job cadence table).
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Job is one named, independently-scheduled background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Worker runs a fixed set of Jobs, each on its own ticker, until its
// context is cancelled.
type Worker struct {
	jobs   []Job
	logger *slog.Logger
}

// New creates a Worker over the given jobs.
func New(logger *slog.Logger, jobs ...Job) *Worker {
	return &Worker{jobs: jobs, logger: logger}
}

// Run starts every job's ticker loop and blocks until ctx is cancelled.
// Jobs "take no external input ... and must tolerate being run
// concurrently on more than one worker" (spec.md §4.11), so each job's
// goroutine runs independently with no cross-job coordination beyond the
// shared context.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("background worker started", "job_count", len(w.jobs))

	done := make(chan struct{}, len(w.jobs))
	for _, job := range w.jobs {
		go w.runJob(ctx, job, done)
	}

	<-ctx.Done()
	for range w.jobs {
		<-done
	}
	w.logger.Info("background worker stopped")
	return nil
}

func (w *Worker) runJob(ctx context.Context, job Job, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logger.Info("job started", "job", job.Name)
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				w.logger.Error("job failed", "job", job.Name, "error", err, "elapsed", time.Since(start))
				continue
			}
			w.logger.Info("job finished", "job", job.Name, "elapsed", time.Since(start))
		}
	}
}
