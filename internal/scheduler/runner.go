// Package scheduler runs the service's periodic jobs: the authoritative
// expiry scan and the local-cache snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named task run at a fixed interval.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Runner owns a cron instance and the context its jobs run under.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    map[string]cron.EntryID
	started bool
}

// New constructs a runner. Overlapping runs of the same job are skipped and
// panics are recovered.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	adapter := cronLogger{logger: logger.With("component", "scheduler")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add registers job. Intervals below one second are rejected because cron
// cannot schedule them.
func (r *Runner) Add(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Every < time.Second {
		return fmt.Errorf("scheduler: job %s: interval must be at least 1s, got %s", job.Name, job.Every)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no function", job.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %s already registered", job.Name)
	}

	id := r.cron.Schedule(cron.Every(job.Every), cron.FuncJob(func() { r.execute(job) }))
	r.jobs[job.Name] = id
	return nil
}

func (r *Runner) execute(job Job) {
	started := time.Now()
	logger := r.logger.With("job", job.Name)
	if err := job.Run(r.ctx); err != nil {
		logger.ErrorContext(r.ctx, "job failed", "error", err, "elapsed", time.Since(started))
		return
	}
	logger.DebugContext(r.ctx, "job finished", "elapsed", time.Since(started))
}

// Start begins running jobs in the background.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.cron.Start()
	r.logger.Info("scheduler started", "jobs", len(r.jobs))
}

// Stop prevents new runs, cancels the context of running ones, and waits for
// them to return or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	r.cancel()

	select {
	case <-done.Done():
		r.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for running jobs: %w", ctx.Err())
	}
}

// Run starts the runner and blocks until ctx ends, then stops it.
func (r *Runner) Run(ctx context.Context) error {
	r.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Stop(stopCtx)
}

// Jobs lists the registered job names.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	return names
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
