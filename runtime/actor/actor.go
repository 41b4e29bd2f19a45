// Package actor implements thread-isolated worker loops that communicate
// through bounded channels: an Actor owns a single goroutine running a
// user-supplied Stepper, wraps caller messages in an inbox envelope that
// also carries an in-band Stop signal, and emits an outbox envelope that
// also carries an in-band Stopped marker once the worker exits.
package actor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phasorframe/phasor/runtime/channel"
	"github.com/phasorframe/phasor/runtime/config"
	"github.com/phasorframe/phasor/runtime/errs"
	"github.com/phasorframe/phasor/runtime/telemetry"
)

// Stepper is the user-supplied worker body an Actor is generic over: the
// "compile-time parametric worker" from the design notes, expressed as an
// interface so actor.Spawn can be a single generic function instead of a
// code-generated one per context type.
type Stepper[CtxT, In, Out any] interface {
	// Step handles one inbox message, optionally publishing zero or more
	// values to out. Returning an error terminates the worker loop.
	Step(ctx *CtxT, msg *In, out *Outbox[Out]) error
}

// StepperFunc adapts a plain function to the Stepper interface.
type StepperFunc[CtxT, In, Out any] func(ctx *CtxT, msg *In, out *Outbox[Out]) error

// Step invokes f.
func (f StepperFunc[CtxT, In, Out]) Step(ctx *CtxT, msg *In, out *Outbox[Out]) error {
	return f(ctx, msg, out)
}

// Outbox is the facade a Stepper uses to publish messages during Step; it
// wraps the actor's outbox sender so user code never sees the internal
// envelope type.
type Outbox[Out any] struct {
	tx *channel.Sender[outboxEnvelope[Out]]
}

// Send publishes v on the actor's outbox, observed by the caller via
// Handle.Recv.
func (o *Outbox[Out]) Send(v Out) error {
	err := o.tx.Send(outboxEnvelope[Out]{kind: envMessage, msg: v})
	if err != nil {
		return errs.ErrOutboxSendFailed
	}
	return nil
}

type inboxKind int

const (
	envMessage inboxKind = iota
	envStop
)

type inboxEnvelope[In any] struct {
	kind inboxKind
	msg  In
}

type outboxEnvelope[Out any] struct {
	kind inboxKind
	msg  Out
}

// SpawnOptions configures Spawn.
type SpawnOptions[CtxT any] struct {
	// InboxCapacity is the inbox channel's ring buffer size. Zero or
	// negative falls back to config.Default().Actor.InboxCapacity.
	InboxCapacity int
	// OutboxCapacity is the outbox channel's ring buffer size. Zero or
	// negative falls back to config.Default().Actor.OutboxCapacity.
	OutboxCapacity int
	// StopTimeout is the default WaitForStop budget used when a caller
	// passes a zero or negative timeout. Zero or negative here falls back
	// to config.Default().Actor.StopTimeout.
	StopTimeout time.Duration
	// OnWorkerError, if set, is invoked with the error a Stepper (or, if no
	// Step failed, OnStop) returned just before the worker exits. This is additive observability: the
	// error is never returned from Handle.WaitForStop or Handle.Recv, per
	// the actor error-propagation contract.
	OnWorkerError func(error)
	// OnStop, if set, is invoked with ctx when the worker observes an
	// in-band Stop envelope (not on stream end or a Step error), before the
	// inbox is closed. SubApp uses this to run a teardown schedule on its
	// child App.
	OnStop func(ctx *CtxT) error
	// Logger receives structured lifecycle logs (worker start/stop). If
	// nil, logs are discarded.
	Logger telemetry.Logger
	// Metrics, if set, is forwarded to the inbox and outbox channels so
	// their Send/Recv latency and blocked-time are observable. If nil,
	// the channels record to telemetry.NewNoopMetrics().
	Metrics telemetry.Metrics
}

// resolvedDefaults fills InboxCapacity, OutboxCapacity, and StopTimeout from
// cfg wherever the caller left them unset (zero or negative).
func (o SpawnOptions[CtxT]) resolvedDefaults(cfg config.Config) SpawnOptions[CtxT] {
	if o.InboxCapacity <= 0 {
		o.InboxCapacity = cfg.Actor.InboxCapacity
	}
	if o.OutboxCapacity <= 0 {
		o.OutboxCapacity = cfg.Actor.OutboxCapacity
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = time.Duration(cfg.Actor.StopTimeout)
	}
	return o
}

// Handle is the caller-facing side of a spawned Actor: a Sender into its
// inbox, a Receiver from its outbox, and a join point for its goroutine.
//
// The context passed to Spawn is borrowed: the caller must ensure it
// outlives every call to Handle methods, in particular WaitForStop.
type Handle[CtxT, In, Out any] struct {
	inboxTx     *channel.Sender[inboxEnvelope[In]]
	outboxRx    *channel.Receiver[outboxEnvelope[Out]]
	done        chan struct{}
	workerID    string
	stopTimeout time.Duration
}

// WorkerID returns the UUID assigned to this actor at spawn time, used to
// correlate its start/stop log lines across the handle/worker boundary.
func (h *Handle[CtxT, In, Out]) WorkerID() string { return h.workerID }

// Spawn creates the inbox/outbox channel pair and starts the worker
// goroutine, which runs until it observes Stop, the inbox stream ends, or
// step returns an error. Capacities and stop timeout left unset in opts
// fall back to config.Default().Actor; use SpawnFromConfig to supply a
// loaded Config instead.
func Spawn[CtxT, In, Out any](ctx *CtxT, step Stepper[CtxT, In, Out], opts SpawnOptions[CtxT]) *Handle[CtxT, In, Out] {
	opts = opts.resolvedDefaults(config.Default())

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	inboxTx, inboxRx, _ := channel.Create[inboxEnvelope[In]](opts.InboxCapacity, channel.WithMetrics[inboxEnvelope[In]](metrics))
	outboxTx, outboxRx, _ := channel.Create[outboxEnvelope[Out]](opts.OutboxCapacity, channel.WithMetrics[outboxEnvelope[Out]](metrics))

	h := &Handle[CtxT, In, Out]{
		inboxTx:     inboxTx,
		outboxRx:    outboxRx,
		done:        make(chan struct{}),
		workerID:    uuid.NewString(),
		stopTimeout: opts.StopTimeout,
	}

	go func() {
		defer close(h.done)
		runWorker(ctx, step, inboxRx, outboxTx, opts, logger, h.workerID)
	}()

	return h
}

// SpawnFromConfig is Spawn with capacities and stop timeout sourced from
// cfg.Actor wherever opts leaves them unset.
func SpawnFromConfig[CtxT, In, Out any](ctx *CtxT, step Stepper[CtxT, In, Out], cfg config.Config, opts SpawnOptions[CtxT]) *Handle[CtxT, In, Out] {
	return Spawn(ctx, step, opts.resolvedDefaults(cfg))
}

func runWorker[CtxT, In, Out any](
	ctx *CtxT,
	step Stepper[CtxT, In, Out],
	inboxRx *channel.Receiver[inboxEnvelope[In]],
	outboxTx *channel.Sender[outboxEnvelope[Out]],
	opts SpawnOptions[CtxT],
	logger telemetry.Logger,
	workerID string,
) {
	logger.Debug(context.Background(), "actor worker starting", "worker_id", workerID)

	var workerErr error
	stopped := false
loop:
	for {
		env, err := inboxRx.Recv()
		if err != nil {
			// Inbox closed by the peer: stream end.
			break loop
		}
		switch env.kind {
		case envStop:
			stopped = true
			break loop
		case envMessage:
			out := &Outbox[Out]{tx: outboxTx}
			if err := step.Step(ctx, &env.msg, out); err != nil {
				workerErr = err
				break loop
			}
		}
	}

	if stopped && opts.OnStop != nil {
		if err := opts.OnStop(ctx); err != nil && workerErr == nil {
			workerErr = err
		}
	}

	inboxRx.Close()
	inboxRx.Release()

	if workerErr != nil && opts.OnWorkerError != nil {
		opts.OnWorkerError(workerErr)
	}

	// Best-effort Stopped marker; ignore failure per the actor contract.
	_ = outboxTx.Send(outboxEnvelope[Out]{kind: envStop})
	outboxTx.Close()
	outboxTx.Release()

	logger.Debug(context.Background(), "actor worker stopped", "worker_id", workerID)
}

// Send forwards cmd to the actor's inbox.
func (h *Handle[CtxT, In, Out]) Send(cmd In) error {
	if err := h.inboxTx.Send(inboxEnvelope[In]{kind: envMessage, msg: cmd}); err != nil {
		return errs.ErrInboxSendFailed
	}
	return nil
}

// Recv blocks for the next outbox value. It returns errs.ErrStopped once
// the worker's Stopped marker is observed, and errs.ErrOutboxClosed once
// the outbox stream ends without a Stopped marker (e.g. the channel was
// closed out from under the actor).
func (h *Handle[CtxT, In, Out]) Recv() (Out, error) {
	var zero Out
	env, err := h.outboxRx.Recv()
	if err != nil {
		return zero, errs.ErrOutboxClosed
	}
	if env.kind == envStop {
		return zero, errs.ErrStopped
	}
	return env.msg, nil
}

// WaitForStop best-effort-sends Stop to the inbox, then polls the outbox
// up to timeout, discarding late Message envelopes, until it observes
// Stopped, stream end, or the timeout elapses. A zero or negative timeout
// falls back to the StopTimeout given to Spawn (itself defaulted from
// config.Default().Actor.StopTimeout). It always joins the worker goroutine
// and releases both channel endpoints before returning.
func (h *Handle[CtxT, In, Out]) WaitForStop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = h.stopTimeout
	}
	_ = h.inboxTx.Send(inboxEnvelope[In]{kind: envStop})

	deadline := time.Now().Add(timeout)
	var stopErr error
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			stopErr = context.DeadlineExceeded
			break
		}
		env, ok := h.recvWithin(remaining)
		if !ok {
			stopErr = context.DeadlineExceeded
			break
		}
		if env.kind == envStop {
			break
		}
		// discard late Message envelope, keep polling
	}

	<-h.done
	h.inboxTx.Release()
	h.outboxRx.Release()
	return stopErr
}

// recvWithin waits up to d for the next outbox envelope, returning
// (envelope, true) on success or (zero, false) on timeout.
func (h *Handle[CtxT, In, Out]) recvWithin(d time.Duration) (outboxEnvelope[Out], bool) {
	type result struct {
		env outboxEnvelope[Out]
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := h.outboxRx.Recv()
		ch <- result{env: env, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return outboxEnvelope[Out]{kind: envStop}, true
		}
		return r.env, true
	case <-time.After(d):
		var zero outboxEnvelope[Out]
		return zero, false
	}
}
