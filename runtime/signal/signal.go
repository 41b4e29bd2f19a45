// Package signal implements a reference-counted, atomically-readable and
// writable cell used as a one-way shutdown flag and readiness indicator
// across goroutines. Unlike channel.Chan, a Signal carries no queue: Get
// always observes the most recently Set value, under sequentially
// consistent ordering.
package signal

import "sync/atomic"

// Signal is a refcounted cell of type T. Clones share the same underlying
// value; Get/Set on any clone are visible to all others.
type Signal[T any] struct {
	core *core[T]
}

type core[T any] struct {
	v    atomic.Value
	refs atomic.Int64
}

type box[T any] struct{ v T }

// New allocates a Signal holding the initial value v0. The returned Signal
// starts with a reference count of 1; Clone bumps it and Release decrements
// it. Reaching zero triggers nothing: the underlying storage is reclaimed
// by the garbage collector once no handle references it.
func New[T any](v0 T) *Signal[T] {
	c := &core[T]{}
	c.v.Store(box[T]{v: v0})
	c.refs.Store(1)
	return &Signal[T]{core: c}
}

// Get returns the most recently Set value (or the initial value if Set has
// never been called).
func (s *Signal[T]) Get() T {
	return s.core.v.Load().(box[T]).v
}

// Set stores v, visible to Get on this Signal and all its clones.
func (s *Signal[T]) Set(v T) {
	s.core.v.Store(box[T]{v: v})
}

// Clone returns a new handle sharing the same underlying cell, bumping the
// reference count.
func (s *Signal[T]) Clone() *Signal[T] {
	s.core.refs.Add(1)
	return &Signal[T]{core: s.core}
}

// Release decrements the reference count. Call at most once per handle;
// Signal has no per-handle released flag, so a double Release
// under-counts. The count does not affect Get, Set or Clone.
func (s *Signal[T]) Release() {
	s.core.refs.Add(-1)
}
