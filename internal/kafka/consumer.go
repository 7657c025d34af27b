package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/logger"
	"ms-booking/internal/notify"
)

// Consumer reads booking events back from Kafka so every instance can
// relay them to its own live subscribers.
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer joins groupID on topics. Use a group unique to the instance
// when each instance must see every event.
func NewConsumer(brokers []string, topics []string, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader, log: log}
}

// Start blocks until ctx ends, handing each decoded event to handle.
func (c *Consumer) Start(ctx context.Context, handle func(notify.Event)) {
	c.log.Info("KAFKA", "Booking event consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.log.Info("KAFKA", "Booking event consumer stopped")
				return
			}
			c.log.Warn("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Skipping undecodable message on %s: %v", msg.Topic, err))
			continue
		}
		handle(ev)
	}
}

func decodeEvent(value []byte) (notify.Event, error) {
	var ev notify.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return notify.Event{}, err
	}
	if ev.Type == "" || ev.ReservationID == "" {
		return notify.Event{}, errors.New("event type and reservation id are required")
	}
	return ev, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
