// Package scheduler runs the lifecycle sweep on a fixed interval or a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"foresight/internal/core"
)

// Sweeper advances time-gated question state. core.Service implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (core.SweepReport, error)
}

// Metrics receives per-sweep totals.
type Metrics interface {
	SweepFinished(transitions, failures int)
}

type noopMetrics struct{}

func (noopMetrics) SweepFinished(int, int) {}

// Config selects the schedule. Cron, when set, wins over Interval.
type Config struct {
	Interval time.Duration
	Cron     string
}

// Runner triggers sweeps. Overlapping triggers are dropped while a sweep runs.
type Runner struct {
	sweeper Sweeper
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides the time source used to compute cron ticks.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New validates cfg and constructs a runner.
func New(sweeper Sweeper, cfg Config, opts ...Option) (*Runner, error) {
	if cfg.Cron != "" {
		if !gronx.IsValid(cfg.Cron) {
			return nil, errors.New("scheduler: invalid cron expression " + cfg.Cron)
		}
	} else if cfg.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	r := &Runner{
		sweeper: sweeper,
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run sweeps once immediately, then on schedule until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	if r.cfg.Cron != "" {
		r.logger.Info("scheduler_started", "cron", r.cfg.Cron)
	} else {
		r.logger.Info("scheduler_started", "interval", r.cfg.Interval)
	}
	r.RunOnce(ctx)
	for {
		wait, err := r.nextWait()
		if err != nil {
			r.logger.Error("scheduler_next_tick_failed", "cron", r.cfg.Cron, "error", err)
			wait = 30 * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("scheduler_stopped")
			return
		case <-timer.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Runner) nextWait() (time.Duration, error) {
	if r.cfg.Cron == "" {
		return r.cfg.Interval, nil
	}
	now := r.now()
	next, err := gronx.NextTickAfter(r.cfg.Cron, now, false)
	if err != nil {
		return 0, err
	}
	if wait := next.Sub(now); wait > 0 {
		return wait, nil
	}
	return time.Second, nil
}

// RunOnce performs one sweep unless another is in progress. It reports
// whether a sweep ran.
func (r *Runner) RunOnce(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Debug("sweep_skipped_overlap")
		return false
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	report, err := r.sweeper.Sweep(ctx)
	r.metrics.SweepFinished(report.Transitions, report.Failures)
	if err != nil {
		if ctx.Err() == nil && !core.IsStopped(err) {
			r.logger.Error("sweep_failed", "error", err)
		}
		return true
	}
	r.logger.Debug("sweep_finished",
		"questions", report.Questions,
		"transitions", report.Transitions,
		"reminders", report.Reminders,
		"failures", report.Failures,
		"duration", time.Since(start),
	)
	return true
}
