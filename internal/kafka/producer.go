package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/notify"
)

// Publisher is the slice of a Kafka producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type Producer struct {
	Writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer builds a writer for many topics; each message names its own.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, log: log}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.Debug("KAFKA", fmt.Sprintf("Published to [%s] key=%s", topic, key))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Notifier streams booking events to one topic per event type, keyed by
// reservation so a reservation's events stay ordered.
type Notifier struct {
	publisher Publisher
	topics    config.TopicConfig
}

func NewNotifier(publisher Publisher, topics config.TopicConfig) *Notifier {
	return &Notifier{publisher: publisher, topics: topics}
}

func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	topic := TopicFor(n.topics, ev.Type)
	if topic == "" {
		return fmt.Errorf("no topic configured for %s", ev.Type)
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	return n.publisher.Publish(ctx, topic, ev.ReservationID, value)
}

func TopicFor(topics config.TopicConfig, t notify.EventType) string {
	switch t {
	case notify.BookingCreated:
		return topics.BookingCreated
	case notify.BookingConfirmed:
		return topics.BookingConfirmed
	case notify.BookingFailed:
		return topics.BookingFailed
	case notify.BookingCancelled:
		return topics.BookingCancelled
	}
	return ""
}

// AllTopics lists the configured booking topics.
func AllTopics(topics config.TopicConfig) []string {
	out := make([]string, 0, 4)
	for _, t := range []string{topics.BookingCreated, topics.BookingConfirmed, topics.BookingFailed, topics.BookingCancelled} {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
