// Package channel implements a bounded, reference-counted, multi-producer
// multi-consumer mailbox (Chan[T]). It is the leaf primitive the actor and
// broadcast subsystems build on: a fixed ring buffer shared by one or more
// Sender and Receiver handles, guarded by a mutex and two condition
// variables, closed exactly once and freed exactly once.
package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phasorframe/phasor/runtime/config"
	"github.com/phasorframe/phasor/runtime/errs"
	"github.com/phasorframe/phasor/runtime/telemetry"
)

// inner is the shared mailbox state. All mutation happens under mu; notFull
// and notEmpty are condition variables derived from mu.
type inner[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf    []T
	head   int
	tail   int
	length int
	closed bool

	// refs counts live Sender and Receiver handles (including clones).
	// It starts at 2 (one Sender, one Receiver) and is only ever touched
	// under mu, so a plain int suffices; the final decrement to zero frees
	// buf by dropping the last reference to it.
	refs int

	// metrics records Send/Recv latency and blocked-time. Never nil once
	// constructed via newInner.
	metrics telemetry.Metrics
}

func newInner[T any](capacity int) *inner[T] {
	in := &inner[T]{buf: make([]T, capacity), refs: 2, metrics: telemetry.NewNoopMetrics()}
	in.notFull = sync.NewCond(&in.mu)
	in.notEmpty = sync.NewCond(&in.mu)
	return in
}

func (in *inner[T]) capacity() int { return len(in.buf) }

// retain increments the reference count. Caller must hold mu.
func (in *inner[T]) retain() { in.refs++ }

// release decrements the reference count and reports whether this was the
// last reference. Caller must hold mu.
func (in *inner[T]) release() bool {
	in.refs--
	return in.refs == 0
}

// Sender is the send-side handle to a Chan. Sender and Receiver share one
// inner mailbox; either side may be cloned to hand out additional handles.
type Sender[T any] struct {
	in       *inner[T]
	released atomic.Bool
}

// Receiver is the receive-side handle to a Chan.
type Receiver[T any] struct {
	in       *inner[T]
	released atomic.Bool
}

// Option configures a channel created via Create.
type Option[T any] func(*inner[T])

// WithMetrics attaches a telemetry.Metrics recorder to the channel; Send and
// Recv report latency and blocked-time through it. Omitting this option (or
// passing nil) leaves the channel on telemetry.NewNoopMetrics().
func WithMetrics[T any](m telemetry.Metrics) Option[T] {
	return func(in *inner[T]) {
		if m != nil {
			in.metrics = m
		}
	}
}

// Create allocates a ring buffer of the given capacity and returns a paired
// Sender and Receiver. Capacity must be at least 1.
func Create[T any](capacity int, opts ...Option[T]) (*Sender[T], *Receiver[T], error) {
	if capacity < 1 {
		return nil, nil, errs.ErrInvalidCapacity
	}
	in := newInner[T](capacity)
	for _, opt := range opts {
		opt(in)
	}
	return &Sender[T]{in: in}, &Receiver[T]{in: in}, nil
}

// CreateFromConfig is Create using cfg.DefaultCapacity as the ring buffer
// size, for callers that size channels from a loaded config.Config rather
// than a literal capacity.
func CreateFromConfig[T any](cfg config.ChannelConfig, opts ...Option[T]) (*Sender[T], *Receiver[T], error) {
	return Create[T](cfg.DefaultCapacity, opts...)
}

// Send pushes v onto the channel, blocking while the buffer is full and the
// channel is open. It returns errs.ErrClosed if the channel is closed
// (either before or while waiting).
func (s *Sender[T]) Send(v T) error {
	if s.released.Load() {
		return errs.ErrClosed
	}
	in := s.in
	start := time.Now()
	in.mu.Lock()
	blocked := false
	for in.length == in.capacity() && !in.closed {
		blocked = true
		in.notFull.Wait()
	}
	if in.closed {
		in.mu.Unlock()
		return errs.ErrClosed
	}
	in.buf[in.tail] = v
	in.tail = (in.tail + 1) % in.capacity()
	in.length++
	in.notEmpty.Signal()
	in.mu.Unlock()

	if blocked {
		in.metrics.RecordTimer("channel.send.blocked", time.Since(start))
	}
	in.metrics.RecordTimer("channel.send.latency", time.Since(start))
	return nil
}

// TrySend attempts a non-blocking send. It returns (false, nil) if the
// buffer is full, (false, errs.ErrClosed) if the channel is closed, and
// (true, nil) on success.
func (s *Sender[T]) TrySend(v T) (bool, error) {
	if s.released.Load() {
		return false, errs.ErrClosed
	}
	in := s.in
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false, errs.ErrClosed
	}
	if in.length == in.capacity() {
		return false, nil
	}
	in.buf[in.tail] = v
	in.tail = (in.tail + 1) % in.capacity()
	in.length++
	in.notEmpty.Signal()
	return true, nil
}

// Close marks the channel closed, waking any blocked Send/Recv so they can
// observe errs.ErrClosed (after draining remaining buffered values, for
// receivers). Close is idempotent.
func (s *Sender[T]) Close() {
	in := s.in
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.notFull.Broadcast()
	in.notEmpty.Broadcast()
}

// Clone returns a new Sender sharing the same mailbox, bumping the
// reference count. Clone panics if called on a released handle, matching
// the no-use-after-release contract of the other handle operations.
func (s *Sender[T]) Clone() *Sender[T] {
	if s.released.Load() {
		panic("channel: Clone called on released Sender")
	}
	in := s.in
	in.mu.Lock()
	in.retain()
	in.mu.Unlock()
	return &Sender[T]{in: in}
}

// Release detaches this handle from the mailbox. It is idempotent: a
// second call on the same handle is a no-op. The mailbox's backing buffer
// is freed (dropped for GC) when the last Sender or Receiver handle is
// released.
func (s *Sender[T]) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	in := s.in
	in.mu.Lock()
	last := in.release()
	in.mu.Unlock()
	if last {
		in.buf = nil
	}
}

// Recv pops the next value, blocking while the buffer is empty and the
// channel is open. It returns errs.ErrClosed once the channel is closed and
// drained.
func (r *Receiver[T]) Recv() (T, error) {
	var zero T
	if r.released.Load() {
		return zero, errs.ErrClosed
	}
	in := r.in
	start := time.Now()
	in.mu.Lock()
	blocked := false
	for in.length == 0 && !in.closed {
		blocked = true
		in.notEmpty.Wait()
	}
	if in.length == 0 && in.closed {
		in.mu.Unlock()
		return zero, errs.ErrClosed
	}
	v := in.buf[in.head]
	in.buf[in.head] = zero
	in.head = (in.head + 1) % in.capacity()
	in.length--
	in.notFull.Signal()
	in.mu.Unlock()

	if blocked {
		in.metrics.RecordTimer("channel.recv.blocked", time.Since(start))
	}
	in.metrics.RecordTimer("channel.recv.latency", time.Since(start))
	return v, nil
}

// TryRecv attempts a non-blocking receive. The boolean return is false both
// when the buffer is empty-and-open and when it is empty-and-closed;
// callers that must distinguish the two should use Recv.
func (r *Receiver[T]) TryRecv() (T, bool) {
	var zero T
	if r.released.Load() {
		return zero, false
	}
	in := r.in
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.length == 0 {
		return zero, false
	}
	v := in.buf[in.head]
	in.buf[in.head] = zero
	in.head = (in.head + 1) % in.capacity()
	in.length--
	in.notFull.Signal()
	return v, true
}

// Next is a blocking iterator step: it returns (v, true) for each value in
// send order, and (zero, false) once the channel is closed and drained.
func (r *Receiver[T]) Next() (T, bool) {
	v, err := r.Recv()
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Close marks the channel closed; see Sender.Close.
func (r *Receiver[T]) Close() {
	in := r.in
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.notFull.Broadcast()
	in.notEmpty.Broadcast()
}

// Clone returns a new Receiver sharing the same mailbox. See Sender.Clone.
func (r *Receiver[T]) Clone() *Receiver[T] {
	if r.released.Load() {
		panic("channel: Clone called on released Receiver")
	}
	in := r.in
	in.mu.Lock()
	in.retain()
	in.mu.Unlock()
	return &Receiver[T]{in: in}
}

// Release detaches this handle from the mailbox; see Sender.Release.
func (r *Receiver[T]) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	in := r.in
	in.mu.Lock()
	last := in.release()
	in.mu.Unlock()
	if last {
		in.buf = nil
	}
}

// Len returns the number of buffered, unconsumed values. Exposed for tests
// and diagnostics; not required by any invariant beyond 0 <= Len() <= Cap().
func (r *Receiver[T]) Len() int {
	in := r.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.length
}

// Cap returns the fixed ring buffer capacity.
func (r *Receiver[T]) Cap() int { return r.in.capacity() }

// Len returns the number of buffered, unconsumed values, as seen from the
// send side.
func (s *Sender[T]) Len() int {
	in := s.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.length
}

// Cap returns the fixed ring buffer capacity.
func (s *Sender[T]) Cap() int { return s.in.capacity() }

// PeerReleased reports whether this Sender is the last live handle on its
// mailbox, i.e. every paired Receiver (and its clones) has been released.
// The Broadcaster uses this to lazily prune subscribers whose receiver side
// has gone away.
func (s *Sender[T]) PeerReleased() bool {
	in := s.in
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.refs <= 1
}
