// Package subapp pairs a child app.App with a dedicated Actor: every
// inbox message is routed into the child App and ticks its runner once,
// and a Stop envelope runs an optional teardown schedule before the
// worker exits.
package subapp

import (
	"context"
	"sync"
	"time"

	"github.com/phasorframe/phasor/runtime/actor"
	"github.com/phasorframe/phasor/runtime/app"
	"github.com/phasorframe/phasor/runtime/txn"
)

// RouteIn applies an inbox message to the child App before its tick runs,
// typically by writing to a Transaction or setting a resource. If nil,
// the message is still installed as a type-keyed resource (retrievable
// via ChildResource.PendingInbox) before the tick runs.
type RouteIn[M any] func(child *app.App, msg *M) error

// CollectOut reads the child App's state after a tick and returns zero or
// more values to emit on the parent-facing outbox. If nil, the default
// drains whatever systems pushed via ChildResource.PushOutbox during the
// tick.
type CollectOut[R any] func(child *app.App) ([]R, error)

// Options configures a SubApp.
type Options[M, R any] struct {
	RouteIn    RouteIn[M]
	CollectOut CollectOut[R]
	// TeardownSchedule, if non-empty, names a child schedule whose systems
	// are called once, in registration order and with a txn.Noop
	// transaction, when the SubApp observes Stop, before the worker exits.
	// The child App's runner is not used for this.
	TeardownSchedule string
	InboxCapacity    int
	OutboxCapacity   int
}

// outboxQueue is the default side-channel systems use to publish output
// during a tick when the caller supplies no CollectOut: it backs
// ChildResource.PushOutbox and the zero-value CollectOut.
type outboxQueue[R any] struct {
	mu    sync.Mutex
	items []R
}

func (q *outboxQueue[R]) push(v R) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	return nil
}

func (q *outboxQueue[R]) drain() []R {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

type stepper[M, R any] struct {
	opts  Options[M, R]
	queue *outboxQueue[R]
}

func (s stepper[M, R]) Step(child *app.App, msg *M, out *actor.Outbox[R]) error {
	app.ReplaceResource(child, *msg)

	if s.opts.RouteIn != nil {
		if err := s.opts.RouteIn(child, msg); err != nil {
			return err
		}
	}
	if err := child.Run(context.Background()); err != nil {
		return err
	}

	collect := s.opts.CollectOut
	if collect == nil {
		collect = func(*app.App) ([]R, error) { return s.queue.drain(), nil }
	}
	outs, err := collect(child)
	if err != nil {
		return err
	}
	for _, o := range outs {
		if err := out.Send(o); err != nil {
			return err
		}
	}
	return nil
}

// ParentResource is installed on the parent App: the parent-facing inbox
// sender and outbox receiver for one SubApp.
type ParentResource[M, R any] struct {
	Inbox  func(M) error
	Outbox func() (R, error)
}

// ChildResource is installed on the child App: access to the message
// currently being routed, and a side channel for systems to push output
// that the default CollectOut will drain and forward.
type ChildResource[M, R any] struct {
	PendingInbox func() (M, error)
	PushOutbox   func(R) error
}

// SubApp is the handle a parent App retains: it can send messages in,
// receive results out, and request a graceful stop.
type SubApp[M, R any] struct {
	child  *app.App
	handle *actor.Handle[app.App, M, R]
}

// Spawn starts the child App's dedicated worker goroutine, installs the
// bridging resources on both the parent and child App, and returns the
// SubApp handle.
func Spawn[M, R any](parent, child *app.App, opts Options[M, R]) *SubApp[M, R] {
	queue := &outboxQueue[R]{}
	step := stepper[M, R]{opts: opts, queue: queue}

	teardown := opts.TeardownSchedule
	spawnOpts := actor.SpawnOptions[app.App]{
		InboxCapacity:  opts.InboxCapacity,
		OutboxCapacity: opts.OutboxCapacity,
	}
	if teardown != "" {
		spawnOpts.OnStop = func(c *app.App) error {
			return runTeardown(c, teardown)
		}
	}

	h := actor.Spawn[app.App, M, R](child, step, spawnOpts)
	sa := &SubApp[M, R]{child: child, handle: h}

	app.ReplaceResource(child, ChildResource[M, R]{
		PendingInbox: func() (M, error) { return app.GetResource[M](child) },
		PushOutbox:   queue.push,
	})
	app.ReplaceResource(parent, ParentResource[M, R]{
		Inbox:  sa.Send,
		Outbox: sa.Recv,
	})
	parent.RegisterTeardown(func() error {
		return sa.WaitForStop(5 * time.Second)
	}, func() {})

	return sa
}

func runTeardown(child *app.App, scheduleName string) error {
	s := child.Schedules
	for i := 0; i < s.ScheduleCount(); i++ {
		sched := s.Schedule(i)
		if sched.Name != scheduleName {
			continue
		}
		for _, sys := range sched.Systems {
			if err := sys.Fn(txn.Noop{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Send forwards msg to the child App's worker.
func (s *SubApp[M, R]) Send(msg M) error { return s.handle.Send(msg) }

// Recv blocks for the next result the child App's worker emitted.
func (s *SubApp[M, R]) Recv() (R, error) { return s.handle.Recv() }

// WaitForStop requests a graceful stop and joins the worker goroutine, up
// to timeout.
func (s *SubApp[M, R]) WaitForStop(timeout time.Duration) error {
	return s.handle.WaitForStop(timeout)
}
