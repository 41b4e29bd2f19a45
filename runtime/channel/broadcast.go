package channel

import (
	"sync"

	"github.com/phasorframe/phasor/runtime/errs"
)

// Broadcaster is the send side of a fan-out channel: every live subscriber
// receives every value published before Close.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   []*Sender[T]
	closed bool
}

// BroadcastController is the control side of a fan-out channel: it owns the
// subscriber list and can mint new subscriptions or close the whole group.
type BroadcastController[T any] struct {
	b *Broadcaster[T]
	// capacity is the per-subscriber ring buffer size used by Subscribe.
	capacity int
	// opts are forwarded to Create for every subscriber channel Subscribe mints.
	opts []Option[T]
}

// CreateBroadcast allocates a Broadcaster/BroadcastController pair. capacity
// is the ring buffer size given to each subscriber's underlying Chan. opts
// are forwarded to every subscriber channel Subscribe mints, so a
// WithMetrics option here observes every subscriber's send/recv latency.
func CreateBroadcast[T any](capacity int, opts ...Option[T]) (*Broadcaster[T], *BroadcastController[T], error) {
	if capacity < 1 {
		return nil, nil, errs.ErrInvalidCapacity
	}
	b := &Broadcaster[T]{}
	ctl := &BroadcastController[T]{b: b, capacity: capacity, opts: opts}
	return b, ctl, nil
}

// Send delivers v to every live subscriber, blocking on whichever
// subscriber's buffer is full (back-pressure to the slowest subscriber, per
// the fan-out's ordering guarantee). A subscriber whose receiver has been
// fully released is pruned lazily before delivery.
func (b *Broadcaster[T]) Send(v T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errs.ErrClosed
	}
	b.pruneOrphaned()
	subs := make([]*Sender[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Send(v); err != nil {
			// The subscriber closed independently; not a broadcaster error.
			continue
		}
	}
	return nil
}

// TrySend succeeds only if every live subscriber has room; otherwise it
// returns false without enqueuing on any subscriber.
func (b *Broadcaster[T]) TrySend(v T) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, errs.ErrClosed
	}
	b.pruneOrphaned()
	for _, s := range b.subs {
		if s.Len() == s.Cap() {
			return false, nil
		}
	}
	for _, s := range b.subs {
		_, _ = s.TrySend(v)
	}
	return true, nil
}

// pruneOrphaned drops subscriber senders whose paired receiver (and all its
// clones) has been released, since nothing will ever drain them again.
// Caller must hold b.mu.
func (b *Broadcaster[T]) pruneOrphaned() {
	live := b.subs[:0]
	for _, s := range b.subs {
		if s.PeerReleased() {
			s.Close()
			s.Release()
			continue
		}
		live = append(live, s)
	}
	b.subs = live
}

// Close closes every subscriber channel and marks the controller closed.
// Further Subscribe calls still succeed but yield immediately-closed
// receivers.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
		s.Release()
	}
}

// Subscribe allocates a new per-subscriber channel, registers its sender
// side with the broadcaster, and returns the receiver side. Subscribing
// after Close returns a receiver that immediately observes errs.ErrClosed.
func (c *BroadcastController[T]) Subscribe() *Receiver[T] {
	tx, rx, err := Create[T](c.capacity, c.opts...)
	if err != nil {
		// capacity was validated in CreateBroadcast; unreachable in practice.
		panic(err)
	}

	c.b.mu.Lock()
	if c.b.closed {
		c.b.mu.Unlock()
		tx.Close()
		tx.Release()
		return rx
	}
	c.b.subs = append(c.b.subs, tx)
	c.b.mu.Unlock()
	return rx
}

// Close closes the underlying broadcaster; see Broadcaster.Close.
func (c *BroadcastController[T]) Close() { c.b.Close() }
