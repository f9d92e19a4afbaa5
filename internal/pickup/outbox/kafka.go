package outbox

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	"shepherd/internal/pickup/models"
)

// EntryIDHeader names the record header carrying the pickup log entry id.
const EntryIDHeader = "entry_id"

// Producer is the part of *kgo.Client the publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes outbox messages to Kafka keyed by attendance id, so
// every entry for one record lands on the same partition in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafkaPublisher returns a publisher. A non-empty topic overrides the topic
// stored with each message.
func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg models.OutboxMessage) error {
	topic := msg.Topic
	if p.topic != "" {
		topic = p.topic
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kgo.RecordHeader{
			{Key: EntryIDHeader, Value: []byte(msg.EntryID.String())},
		},
		Timestamp: msg.CreatedAt,
	}
	return p.producer.ProduceSync(ctx, record).FirstErr()
}
