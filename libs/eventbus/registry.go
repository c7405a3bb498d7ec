package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
)

var (
	// ErrUnknownEventType means no decoder is registered for the wire
	// event type. Permanent: redelivery will not fix it.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNoHandler means the event decoded fine but nothing subscribes
	// to it on this service.
	ErrNoHandler = errors.New("no handler registered for event type")
)

// Handler processes one decoded event. The correlation ID identifies the
// request chain the event belongs to; handlers stash it on anything they
// emit in turn.
type Handler func(ctx context.Context, event domain.Event, correlationID string) error

// Decoder turns a serialized payload into a concrete event value.
type Decoder func(payload []byte) (domain.Event, error)

// Registry maps event-type strings to decoders and handlers. It replaces
// any reflective type lookup with an explicit table built at process
// start: register everything in main, then only read. The maps are plain
// because registration happens before any goroutine consumes; concurrent
// resolution afterwards needs no locking.
type Registry struct {
	decoders map[string]Decoder
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		decoders: map[string]Decoder{},
		handlers: map[string]Handler{},
	}
}

// RegisterType associates a decoder with an event type. Last registration
// wins; call once per type at startup.
func (r *Registry) RegisterType(eventType string, decode Decoder) {
	r.decoders[eventType] = decode
}

// RegisterHandler subscribes a handler to an event type.
func (r *Registry) RegisterHandler(eventType string, h Handler) {
	r.handlers[eventType] = h
}

// Decode resolves the concrete event shape for eventType and unmarshals
// the payload into it.
func (r *Registry) Decode(eventType string, payload []byte) (domain.Event, error) {
	decode, ok := r.decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return decode(payload)
}

// Handler returns the handler subscribed to eventType.
func (r *Registry) Handler(eventType string) (Handler, error) {
	h, ok := r.handlers[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, eventType)
	}
	return h, nil
}

// Topics lists every event type with a registered handler, in no
// particular order. Consumers use it to know which topics to subscribe.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}
