// Package consumer reads progression events back off Kafka and hands them to
// a Handler.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded progression events.
type Handler interface {
	Handle(context.Context, Event) error
}

// Event is a progression event decoded from a Kafka record. The dispatcher
// keys records by user ID and labels them with event_type and schema_subject
// headers; the processor surfaces all three here.
type Event struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls records from one topic and dispatches the decoded events.
// Offsets are committed only after the handler succeeds, so a crashed or
// failing handler sees the event again; records that cannot be decoded are
// committed anyway since refetching them can never help.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		p.process(ctx, msg)
	}
}

func (p *Processor) process(ctx context.Context, msg kafka.Message) {
	event, err := decodeEvent(msg)
	if err != nil {
		recordDecodeError(msg.Topic)
		p.logger.Printf("dropping undecodable record (topic=%s partition=%d offset=%d): %v",
			msg.Topic, msg.Partition, msg.Offset, err)
		p.commit(ctx, msg)
		return
	}

	if err := p.handler.Handle(ctx, event); err != nil {
		recordHandlerError(event)
		p.logger.Printf("handler failed (event_type=%s user=%s offset=%d): %v",
			event.EventType, event.UserID, msg.Offset, err)
		// Uncommitted: the record is refetched on the next poll.
		return
	}

	if p.commit(ctx, msg) {
		recordProcessed(event)
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("offset commit failed (topic=%s offset=%d): %v", msg.Topic, msg.Offset, err)
		return false
	}
	return true
}

// decodeEvent strips the Confluent wire-format envelope (magic byte plus a
// big-endian schema ID) and reads the dispatcher's headers. The record key is
// the user ID, since the outbox partitions by user.
func decodeEvent(msg kafka.Message) (Event, error) {
	if len(msg.Value) < 5 {
		return Event{}, fmt.Errorf("record too short for wire format: %d bytes", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Event{}, fmt.Errorf("unexpected framing byte %#x", msg.Value[0])
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Event{}, errors.New("missing event_type header")
	}
	schemaSubject, _ := headerValue(msg, "schema_subject")

	return Event{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		UserID:        string(msg.Key),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
