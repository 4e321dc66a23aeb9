package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertEventLogSQL = `
INSERT INTO progression_event_log
    (event_type, user_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// EventLogWriter appends consumed events to progression_event_log, the
// per-user audit trail behind history exports and support tooling. The table
// is append-only; replays after an uncommitted offset produce duplicate rows,
// which readers de-duplicate on (topic, partition, record_offset).
type EventLogWriter struct {
	pool *pgxpool.Pool
}

// NewEventLogWriter constructs a writer backed by the provided pool.
func NewEventLogWriter(pool *pgxpool.Pool) *EventLogWriter {
	return &EventLogWriter{pool: pool}
}

// Handle appends one event row.
func (w *EventLogWriter) Handle(ctx context.Context, event Event) error {
	_, err := w.pool.Exec(ctx, insertEventLogSQL,
		event.EventType,
		event.UserID,
		event.SchemaID,
		event.SchemaSubject,
		event.Topic,
		event.Partition,
		event.Offset,
		event.Payload,
		event.Timestamp,
	)
	return err
}
