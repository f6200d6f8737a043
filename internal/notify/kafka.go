package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a Kafka topic for downstream
// analytics. Writes happen off the engine's hot path; failures are
// logged and dropped (the event feed is at-least-once, not durable).
type KafkaSink struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaSink creates a sink writing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

// Notify marshals the event and writes it keyed by session id, so all
// events of one session land on the same partition in order.
func (s *KafkaSink) Notify(ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to marshal event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		msg := kafka.Message{
			Key:   []byte(ev.SessionID),
			Value: data,
		}
		if err := s.writer.WriteMessages(ctx, msg); err != nil {
			s.logger.Error().Err(err).
				Str("type", string(ev.Type)).
				Str("session_id", ev.SessionID).
				Msg("failed to write event to kafka")
		}
	}()
}

// Close closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
