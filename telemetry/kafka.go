package telemetry

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"sshtui/config"
)

// KafkaSink publishes session lifecycle events as Kafka messages keyed by
// session handle, so a consumer partitioning on key sees every event for
// one session in order.
type KafkaSink struct {
	cfg    config.KafkaSinkConfig
	writer *kafkago.Writer
}

// NewKafkaSink builds a writer for cfg.Topic across cfg.Brokers. The
// underlying kafka-go Writer dials lazily on the first WriteMessages
// call, so construction never blocks on broker availability.
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("telemetry: kafka sink requires at least one broker")
	}
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{cfg: cfg, writer: writer}, nil
}

func (s *KafkaSink) Name() string { return "kafka:" + s.cfg.Topic }

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d", event.Handle)
	msg := kafkago.Message{Key: []byte(key), Value: payload, Time: event.Timestamp}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("telemetry: kafka produce failed: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
