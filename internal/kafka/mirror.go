package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"vn.io.arda/notification-agent/internal/store"
)

// Producer is the part of *kgo.Client the mirror uses.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Mirror publishes every store change to a Kafka topic for downstream analytics.
type Mirror struct {
	producer Producer
	topic    string
	userID   string
}

// New creates a Mirror with a franz-go producer client.
func New(brokers []string, topic, userID string) (*Mirror, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, err
	}
	return NewWithProducer(client, topic, userID), nil
}

// NewWithProducer creates a Mirror on an existing producer.
func NewWithProducer(p Producer, topic, userID string) *Mirror {
	return &Mirror{producer: p, topic: topic, userID: userID}
}

// Publish is a store listener. It never blocks; delivery failures are logged.
func (m *Mirror) Publish(c store.Change) {
	env, err := NewEnvelope(m.userID, c)
	if err != nil {
		log.Error().Err(err).Str("kind", string(c.Kind)).Msg("encode kafka change event")
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("kind", string(c.Kind)).Msg("encode kafka change event")
		return
	}

	r := &kgo.Record{
		Topic: m.topic,
		Key:   []byte(m.userID),
		Value: value,
	}
	m.producer.TryProduce(context.Background(), r, func(r *kgo.Record, err error) {
		if err != nil {
			log.Error().Err(err).Str("topic", r.Topic).Str("kind", string(c.Kind)).Msg("kafka produce error")
			return
		}
		log.Debug().Str("topic", r.Topic).Int32("partition", r.Partition).Int64("offset", r.Offset).Msg("store change mirrored")
	})
}

// Close flushes buffered records and closes the producer.
func (m *Mirror) Close(ctx context.Context) {
	if err := m.producer.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("kafka flush error")
	}
	m.producer.Close()
	log.Info().Msg("kafka mirror stopped")
}

// --- Shared event envelope ---

// EventEnvelope is the common wrapper used by all arda services for Kafka messages.
type EventEnvelope struct {
	EventType  string          `json:"eventType"`
	EventID    string          `json:"eventId"`
	UserID     string          `json:"userId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a store change as a "notification.<kind>" event.
func NewEnvelope(userID string, c store.Change) (EventEnvelope, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("encode %s change: %w", c.Kind, err)
	}
	return EventEnvelope{
		EventType:  "notification." + string(c.Kind),
		EventID:    uuid.NewString(),
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}
