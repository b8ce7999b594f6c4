package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"optin/internal/events"
	"optin/pkg/requestcontext"
)

// Producer is the slice of *kgo.Client the Kafka subscriber needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// envelope is the JSON value published for every event. Consumers
// (reminder mailers, downstream CRMs) switch on Kind.
type envelope struct {
	Kind       events.Kind  `json:"kind"`
	OccurredAt time.Time    `json:"occurred_at"`
	RequestID  string       `json:"request_id,omitempty"`
	Payload    events.Event `json:"payload"`
}

// Kafka publishes lifecycle events to a topic, keyed so that all events of
// one record land on the same partition.
type Kafka struct {
	producer Producer
	topic    string
	timeout  time.Duration
}

const defaultProduceTimeout = 5 * time.Second

func NewKafka(producer Producer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic, timeout: defaultProduceTimeout}
}

func (k *Kafka) Handle(ctx context.Context, event events.Event) error {
	value, err := json.Marshal(envelope{
		Kind:       event.Kind(),
		OccurredAt: event.OccurredAt(),
		RequestID:  requestcontext.RequestID(ctx),
		Payload:    event,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	produceCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(partitionKey(event)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(event.Kind())},
		},
	}
	if err := k.producer.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event.Kind(), err)
	}
	return nil
}

func partitionKey(event events.Event) string {
	switch e := event.(type) {
	case events.Created:
		return e.Token
	case events.Confirmed:
		return e.Token
	case events.OptedOut:
		return e.Token
	case events.Deleted:
		return e.Token
	case events.Expired:
		return "sweep:" + e.Class
	}
	return string(event.Kind())
}
