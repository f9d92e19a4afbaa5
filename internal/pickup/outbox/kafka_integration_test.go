//go:build integration

package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"shepherd/internal/pickup/models"
	"shepherd/internal/platform/config"
	"shepherd/internal/platform/kafka"
	"shepherd/pkg/testutil/containers"
)

func TestKafkaPublisher_Redpanda(t *testing.T) {
	broker := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "pickup.log.it." + uuid.NewString()[:8]
	client, err := kafka.NewClient(config.Kafka{Brokers: broker.Brokers, Topic: topic})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, kafka.EnsureTopic(ctx, client, topic, 1))

	msg := models.OutboxMessage{
		ID:        uuid.New(),
		EntryID:   uuid.New(),
		Topic:     models.ExportTopic,
		Key:       uuid.NewString(),
		Payload:   []byte(`{"decision":"authorized"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, NewKafkaPublisher(client, topic).Publish(ctx, msg))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, msg.Key, string(got.Key))
	assert.JSONEq(t, string(msg.Payload), string(got.Value))
	require.Len(t, got.Headers, 1)
	assert.Equal(t, msg.EntryID.String(), string(got.Headers[0].Value))
}
