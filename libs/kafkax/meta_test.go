package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractMessageMeta(t *testing.T) {
	msg := kafka.Message{
		Topic: "subscription.started.v1",
		Key:   []byte("sub-1"),
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte("m-1")},
			{Key: "event_type", Value: []byte("subscription.started.v1")},
			{Key: "correlation_id", Value: []byte("corr-1")},
			{Key: "causation_id", Value: []byte("m-0")},
		},
	}
	meta := ExtractMessageMeta(msg)
	if meta.MessageID != "m-1" || meta.EventType != "subscription.started.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.CorrelationID != "corr-1" || meta.CausationID != "m-0" {
		t.Fatalf("unexpected correlation meta: %+v", meta)
	}
}

func TestExtractMessageMeta_Fallbacks(t *testing.T) {
	msg := kafka.Message{Topic: "some.topic.v1", Key: []byte("key-9")}
	meta := ExtractMessageMeta(msg)
	if meta.MessageID != "key-9" {
		t.Fatalf("expected message ID from key, got %q", meta.MessageID)
	}
	if meta.EventType != "some.topic.v1" {
		t.Fatalf("expected event type from topic, got %q", meta.EventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
