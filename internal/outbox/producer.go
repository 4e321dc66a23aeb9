package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topics the dispatcher publishes to. Activity and degradation events share
// progression_events; level transitions get their own topic so notification
// consumers do not have to filter the full firehose.
const (
	TopicProgressionEvents = "progression_events"
	TopicLevelChanged      = "level_changed"
)

// EventProducer owns one Kafka writer per progression topic. Every record is
// keyed by user ID and the writers hash on that key, so one user's events stay
// ordered within a partition.
type EventProducer struct {
	writers map[string]*kafka.Writer
}

// NewEventProducer builds writers for the progression topic set up front.
// Publishing to a topic outside that set is an error, mirroring the schema
// catalog gate in the dispatcher.
func NewEventProducer(brokers []string) *EventProducer {
	topics := []string{TopicProgressionEvents, TopicLevelChanged}
	writers := make(map[string]*kafka.Writer, len(topics))
	for _, topic := range topics {
		writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return &EventProducer{writers: writers}
}

// Publish writes the records to the topic's writer.
func (p *EventProducer) Publish(ctx context.Context, topic string, records ...kafka.Message) error {
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer configured for topic %s", topic)
	}
	return writer.WriteMessages(ctx, records...)
}

// Close shuts down every writer and reports the combined errors.
func (p *EventProducer) Close() error {
	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
