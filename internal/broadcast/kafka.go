package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"metron-core/internal/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	// Events to forward. Empty forwards everything except ticks.
	Events []events.Event
}

// KafkaProducer writes each message to one topic keyed by symbol, with the
// event type in the "event" header.
type KafkaProducer struct {
	writer messageWriter
	filter filter
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Gzip,
		MaxAttempts:            3,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           100 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaProducer(w, cfg.Events), nil
}

func newKafkaProducer(w messageWriter, list []events.Event) *KafkaProducer {
	if len(list) == 0 {
		list = []events.Event{events.EventAnalysis, events.EventTrade, events.EventAlert}
	}
	return &KafkaProducer{writer: w, filter: newFilter(list)}
}

func (k *KafkaProducer) Name() string { return "kafka" }

func (k *KafkaProducer) Relay(ctx context.Context, symbol string, msg events.Message) error {
	if !k.filter.allows(msg.Type) {
		return nil
	}
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(symbol),
		Value:   payload,
		Time:    msg.Time,
		Headers: []kafka.Header{{Key: "event", Value: []byte(msg.Type)}},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.writer.Close()
}
