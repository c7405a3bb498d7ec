package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event: an immutable record of something that happened
// to an aggregate. EventType is the stable string discriminator used both
// for routing and for wire-format typing (topic name = event type).
type Event interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
}

// SubjectEvent is implemented by events that can name the aggregate they
// belong to. Extraction is best-effort: events that do not implement it
// are still delivered, they just cannot be partitioned by aggregate.
type SubjectEvent interface {
	AggregateType() string
	AggregateID() string
}

// EventBase carries the identity fields shared by every concrete event.
// Embed it and implement EventType on the concrete struct.
type EventBase struct {
	ID string    `json:"event_id"`
	At time.Time `json:"occurred_at"`
}

// NewEventBase assigns a UUIDv7 event ID (globally unique and
// time-sortable) and stamps the occurrence time from the clock.
func NewEventBase(clock Clock) EventBase {
	return EventBase{
		ID: uuid.Must(uuid.NewV7()).String(),
		At: clock.Now().UTC(),
	}
}

func (e EventBase) EventID() string       { return e.ID }
func (e EventBase) OccurredAt() time.Time { return e.At }
