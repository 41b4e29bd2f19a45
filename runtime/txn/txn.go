// Package txn defines the Transaction boundary a schedule System runs
// inside. The runtime treats Transaction as an opaque collaborator: it
// neither knows nor cares what storage backs Begin/Commit/Rollback, only
// that every schedule's run of systems is bracketed by them.
package txn

import "context"

// Transaction brackets one schedule's systems. Begin is called before the
// schedule's first system runs; Commit once all of them succeed, Rollback
// when one returns an error. Implementations
// are free to no-op any or all of these, as Noop does.
type Transaction interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
}

// Noop is a Transaction that does nothing, for schedules with no external
// storage to coordinate.
type Noop struct{}

// Begin is a no-op.
func (Noop) Begin(context.Context) error { return nil }

// Commit is a no-op.
func (Noop) Commit() error { return nil }

// Rollback is a no-op.
func (Noop) Rollback() error { return nil }
