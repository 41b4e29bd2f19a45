package schedule

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/phasorframe/phasor/runtime/config"
	"github.com/phasorframe/phasor/runtime/errs"
	"github.com/phasorframe/phasor/runtime/signal"
	"github.com/phasorframe/phasor/runtime/telemetry"
	"github.com/phasorframe/phasor/runtime/txn"
)

// ErrorPolicy controls whether the runner keeps executing later schedules
// after a system error.
type ErrorPolicy int

const (
	// PolicyStop aborts the remainder of the tick on the first system
	// error. This is the default.
	PolicyStop ErrorPolicy = iota
	// PolicyContinue runs every remaining schedule even after an earlier
	// one reported an error; the first error seen is still returned.
	PolicyContinue
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// NewTransaction opens a Transaction for exclusive use during one
	// schedule's systems. If nil, txn.Noop{} is used for every schedule.
	NewTransaction func(ctx context.Context) (txn.Transaction, error)
	// ErrorPolicy controls cross-schedule error propagation. Defaults to
	// PolicyStop.
	ErrorPolicy ErrorPolicy
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tracer      telemetry.Tracer
}

// Runner is the default, sequential schedule executor: one tick sorts the
// schedule-order graph, then runs each schedule's systems in registration
// order inside its own Transaction.
type Runner struct {
	registry *Registry
	opts     RunnerOptions
}

// NewRunner binds a Runner to registry.
func NewRunner(registry *Registry, opts RunnerOptions) *Runner {
	if opts.NewTransaction == nil {
		opts.NewTransaction = func(context.Context) (txn.Transaction, error) {
			return txn.Noop{}, nil
		}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Runner{registry: registry, opts: opts}
}

// NewRunnerFromConfig is NewRunner with ErrorPolicy sourced from
// cfg.Runner.ErrorPolicy ("stop" or "continue") when opts.ErrorPolicy is
// left at its zero value (PolicyStop).
func NewRunnerFromConfig(registry *Registry, cfg config.Config, opts RunnerOptions) *Runner {
	if opts.ErrorPolicy == PolicyStop && cfg.Runner.ErrorPolicy == "continue" {
		opts.ErrorPolicy = PolicyContinue
	}
	return NewRunner(registry, opts)
}

// RunOnce executes a single tick: sort, then run every schedule in order.
// A system error stops its own schedule immediately; whether later
// schedules still run is governed by ErrorPolicy.
func (r *Runner) RunOnce(ctx context.Context) error {
	ctx, span := r.opts.Tracer.Start(ctx, "schedule.tick")
	defer span.End()

	order, err := r.registry.Order()
	if err != nil {
		span.RecordError(err)
		return err
	}

	var firstErr error
	for _, scheduleIndex := range order {
		s := r.registry.Schedule(scheduleIndex)
		if err := r.runSchedule(ctx, s); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if r.opts.ErrorPolicy == PolicyStop {
				return firstErr
			}
		}
	}
	return firstErr
}

func (r *Runner) runSchedule(ctx context.Context, s *Schedule) error {
	ctx, span := r.opts.Tracer.Start(ctx, "schedule.run:"+s.Name)
	defer span.End()

	tx, err := r.opts.NewTransaction(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := tx.Begin(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	for _, sys := range s.Systems {
		if err := sys.Fn(tx); err != nil {
			_ = tx.Rollback()
			wrapped := &errs.SystemError{Schedule: s.Name, System: sys.Name, Cause: err}
			span.RecordError(wrapped)
			r.opts.Metrics.IncCounter("schedule.system.errors", 1, "schedule", s.Name, "system", sys.Name)
			return wrapped
		}
		r.opts.Metrics.IncCounter("schedule.system.runs", 1, "schedule", s.Name, "system", sys.Name)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// RunUntilStopped calls RunOnce repeatedly until stop reads true,
// governed by interval: a positive interval paces ticks on a time.Ticker,
// a zero or negative interval runs back-to-back ticks limited only by
// a token-bucket rate limiter sized to avoid a busy loop. The first
// non-nil error from RunOnce under PolicyStop ends the loop and is
// returned; under PolicyContinue, RunOnce errors are logged and the loop
// continues.
func (r *Runner) RunUntilStopped(ctx context.Context, stop *signal.Signal[bool], interval time.Duration) error {
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for !stop.Get() {
			if err := r.tickOrLog(ctx); err != nil {
				return err
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	limiter := rate.NewLimiter(rate.Limit(1000), 1)
	for !stop.Get() {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := r.tickOrLog(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) tickOrLog(ctx context.Context) error {
	err := r.RunOnce(ctx)
	if err == nil {
		return nil
	}
	if r.opts.ErrorPolicy == PolicyContinue {
		r.opts.Logger.Error(ctx, "schedule tick error under continue policy", "error", err)
		return nil
	}
	return err
}
