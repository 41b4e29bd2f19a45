// Package app implements App, the top-level owner of a schedule registry,
// a resource registry, and a runner binding. It is the composition root
// the rest of the runtime (channel, signal, graph, actor, schedule) is
// assembled under.
package app

import (
	"context"

	"github.com/phasorframe/phasor/runtime/errs"
	"github.com/phasorframe/phasor/runtime/schedule"
	"github.com/phasorframe/phasor/runtime/txn"
)

// App owns the schedule registry (and, through it, the schedule-order
// graph), a resource map, and at most one bound runner.
type App struct {
	Schedules *schedule.Registry
	resources *resourceRegistry
	runner    *schedule.Runner
	subApps   []lifecycleHandle
}

// New returns an App with an empty schedule registry and resource map.
func New() *App {
	return &App{
		Schedules: schedule.NewRegistry(),
		resources: newResourceRegistry(),
	}
}

// AddSchedule registers a new, empty schedule. See schedule.Registry.AddSchedule.
func (a *App) AddSchedule(name string) (schedule.ScheduleHandle, error) {
	return a.Schedules.AddSchedule(name)
}

// ScheduleBefore adds a "before" ordering edge between two schedules.
func (a *App) ScheduleBefore(before, after string) error {
	return a.Schedules.ScheduleBefore(before, after)
}

// ScheduleAfter adds an "after" ordering edge between two schedules.
func (a *App) ScheduleAfter(after, before string) error {
	return a.Schedules.ScheduleAfter(after, before)
}

// AddSystem appends a system to the named schedule.
func (a *App) AddSystem(scheduleName, systemName string, fn func(txn.Transaction) error) error {
	return a.Schedules.AddSystem(scheduleName, systemName, fn)
}

// SetRunner binds the runner this App's Run will invoke. At most one
// runner may be bound; a later call replaces the earlier binding, mirroring
// the original "at most one runner is bound" invariant by construction
// (there is exactly one field to overwrite).
func (a *App) SetRunner(r *schedule.Runner) {
	a.runner = r
}

// Run invokes the bound runner for a single tick. Fails errs.ErrNoRunner
// if SetRunner was never called.
func (a *App) Run(ctx context.Context) error {
	if a.runner == nil {
		return errs.ErrNoRunner
	}
	return a.runner.RunOnce(ctx)
}

// lifecycleHandle is the type-erased SubApp lifecycle vtable: a fixed
// {waitForStop, dispose} capability set, so App can hold heterogeneous
// SubApps (distinct In/Out/CtxT type parameters) in one slice.
type lifecycleHandle struct {
	waitForStop func() error
	dispose     func()
}

// registerSubApp records a SubApp's lifecycle handle for App-driven
// teardown via Shutdown.
func (a *App) registerSubApp(h lifecycleHandle) {
	a.subApps = append(a.subApps, h)
}

// RegisterTeardown records a SubApp's waitForStop/dispose pair for
// App-driven teardown via Shutdown. Exported so the subapp package (which
// cannot construct the unexported lifecycleHandle type) can register
// itself when spawned.
func (a *App) RegisterTeardown(waitForStop func() error, dispose func()) {
	a.registerSubApp(lifecycleHandle{waitForStop: waitForStop, dispose: dispose})
}

// Shutdown tears down every registered SubApp sequentially, in
// registration order, to preserve the same determinism bias as the
// default runner's own sequential system execution. It returns the first
// error encountered but still attempts every SubApp's waitForStop and
// dispose.
func (a *App) Shutdown() error {
	var firstErr error
	for _, h := range a.subApps {
		if err := h.waitForStop(); err != nil && firstErr == nil {
			firstErr = err
		}
		h.dispose()
	}
	a.subApps = nil
	return firstErr
}
