package domain

import "errors"

// ErrVersionConflict is returned by storage adapters when a conditional
// write loses the race: the version (or concurrency token) the caller read
// is no longer current. The caller should reload and retry the business
// operation, not the raw write.
var ErrVersionConflict = errors.New("aggregate version conflict")

// AggregateBase is the entity base embedded by every aggregate root. It
// carries the monotonic version used for optimistic concurrency and the
// buffer of domain events recorded since the last save.
//
// The pending buffer is owned by the aggregate instance alone. Storage
// adapters read it via PendingEvents when appending to the outbox and call
// ClearPending only after the enclosing transaction has committed; the
// buffer itself is never persisted.
type AggregateBase struct {
	version int64
	pending []Event
}

// Version returns the currently loaded version. New aggregates start at 0;
// the storage adapter bumps it exactly once per committed mutation.
func (a *AggregateBase) Version() int64 { return a.version }

// SetVersion is for storage adapters rehydrating an aggregate from a row
// or reflecting a committed write.
func (a *AggregateBase) SetVersion(v int64) { a.version = v }

// Record buffers a domain event produced by a business operation. Events
// are kept in call order.
func (a *AggregateBase) Record(e Event) {
	a.pending = append(a.pending, e)
}

// PendingEvents returns a copy of the buffered events in record order.
func (a *AggregateBase) PendingEvents() []Event {
	if len(a.pending) == 0 {
		return nil
	}
	out := make([]Event, len(a.pending))
	copy(out, a.pending)
	return out
}

// ClearPending drops the buffer. Call only after the unit of work that
// appended the events to the outbox has committed.
func (a *AggregateBase) ClearPending() {
	a.pending = nil
}
