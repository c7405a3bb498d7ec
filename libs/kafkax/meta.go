package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
)

// Header keys carried on every platform message. The message ID doubles as
// the inbox dedup key, so redeliveries of the same logical message must
// repeat it verbatim.
const (
	HeaderMessageID = "message_id"
	HeaderEventType = "event_type"
)

// MessageMeta is the canonical transport metadata attached to Kafka
// messages across services.
type MessageMeta struct {
	MessageID     string
	EventType     string
	CorrelationID string
	CausationID   string
}

// ExtractMessageMeta reads the metadata headers, falling back to the
// message key for the ID and the topic for the event type when a producer
// outside this platform omitted them.
func ExtractMessageMeta(msg kafka.Message) MessageMeta {
	meta := MessageMeta{
		MessageID:     HeaderValue(msg.Headers, HeaderMessageID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		CorrelationID: HeaderValue(msg.Headers, correlation.CorrelationKey),
		CausationID:   HeaderValue(msg.Headers, correlation.CausationKey),
	}
	if meta.MessageID == "" {
		meta.MessageID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
