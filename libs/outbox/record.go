package outbox

import (
	"strings"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
)

// Record is one persisted outbox row. Rows become visible to the relay
// only when the enclosing business transaction commits; DispatchedAt stays
// nil until the transport has acknowledged the publish.
type Record struct {
	ID            int64
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CorrelationID string
	CausationID   string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// subjectOf extracts the aggregate subject from an event. AggregateID is
// best-effort: events that cannot name their aggregate still get relayed,
// they just lose per-aggregate partitioning. The type falls back to the
// first segment of the event type ("subscription.started.v1" ->
// "subscription").
func subjectOf(e domain.Event) (aggregateType, aggregateID string) {
	if s, ok := e.(domain.SubjectEvent); ok {
		return s.AggregateType(), s.AggregateID()
	}
	if i := strings.IndexByte(e.EventType(), '.'); i > 0 {
		return e.EventType()[:i], ""
	}
	return e.EventType(), ""
}
