// Package postgres provides pgx-backed persistence for users, activity log
// entries, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/observability"
)

// Repository provides Postgres-backed persistence for progression state and
// records outbox events inside the same transaction as the write they
// describe.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the user snapshot, or nil when the user does not exist.
func (r *Repository) Get(ctx context.Context, userID string) (*domain.User, error) {
	const query = `SELECT user_id, level, current_exp, stats, last_activity, last_active, created_at, updated_at
        FROM users WHERE user_id=$1`

	row := r.pool.QueryRow(ctx, query, userID)

	var (
		user        domain.User
		statsRaw    []byte
		activityRaw []byte
	)
	if err := row.Scan(&user.ID, &user.Level, &user.CurrentEXP, &statsRaw, &activityRaw, &user.LastActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	stats, err := decodeStats(statsRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding stats for user %s: %w", userID, err)
	}
	lastActivity, err := decodeLastActivity(activityRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding last activity for user %s: %w", userID, err)
	}
	user.Stats = stats
	user.LastActivity = lastActivity
	return &user, nil
}

// Save upserts the user snapshot. When the stored level differs from the new
// one, a level.changed outbox event is recorded in the same transaction.
func (r *Repository) Save(ctx context.Context, user domain.User) error {
	statsRaw, err := encodeStats(user.Stats)
	if err != nil {
		return err
	}
	activityRaw, err := encodeLastActivity(user.LastActivity)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	prevLevel := 0
	row := tx.QueryRow(ctx, `SELECT level FROM users WHERE user_id=$1 FOR UPDATE`, user.ID)
	if scanErr := row.Scan(&prevLevel); scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
		err = scanErr
		return err
	}

	const upsert = `INSERT INTO users (user_id, level, current_exp, stats, last_activity, last_active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id) DO UPDATE SET
            level=EXCLUDED.level,
            current_exp=EXCLUDED.current_exp,
            stats=EXCLUDED.stats,
            last_activity=EXCLUDED.last_activity,
            last_active=EXCLUDED.last_active,
            updated_at=EXCLUDED.updated_at`

	if _, err = tx.Exec(ctx, upsert,
		user.ID, user.Level, user.CurrentEXP, statsRaw, activityRaw,
		user.LastActive, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return err
	}

	if prevLevel != 0 && prevLevel != user.Level {
		direction := "up"
		if user.Level < prevLevel {
			direction = "down"
		}
		dedupeKey := fmt.Sprintf("%s:level.changed:%d", user.ID, user.UpdatedAt.UnixNano())
		if err = insertOutbox(ctx, tx, "level.changed", user.ID, user.ID, dedupeKey, events.LevelChanged{
			UserID:     user.ID,
			Direction:  direction,
			FromLevel:  prevLevel,
			ToLevel:    user.Level,
			OccurredAt: user.UpdatedAt,
		}); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordUserPersisted(user.UpdatedAt)
	return nil
}

// FindByID loads one activity entry scoped to the user, or nil when absent.
func (r *Repository) FindByID(ctx context.Context, userID, activityID string) (*domain.ActivityLogEntry, error) {
	const query = `SELECT activity_id, user_id, activity_type, duration_min, occurred_at, stat_gains, exp_gained, created_at
        FROM activities WHERE user_id=$1 AND activity_id=$2`

	row := r.pool.QueryRow(ctx, query, userID, activityID)
	entry, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// Create persists the entry and records an activity.logged outbox event in the
// same transaction.
func (r *Repository) Create(ctx context.Context, entry domain.ActivityLogEntry) error {
	gainsRaw, err := encodeStats(entry.StatGains)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insert = `INSERT INTO activities (activity_id, user_id, activity_type, duration_min, occurred_at, stat_gains, exp_gained, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err = tx.Exec(ctx, insert,
		entry.ID, entry.UserID, string(entry.Type), entry.DurationMin,
		entry.OccurredAt, gainsRaw, entry.EXPGained, entry.CreatedAt,
	); err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:activity.logged", entry.ID)
	if err = insertOutbox(ctx, tx, "activity.logged", entry.ID, entry.UserID, dedupeKey, events.ActivityLogged{
		ActivityID:   entry.ID,
		UserID:       entry.UserID,
		ActivityType: string(entry.Type),
		OccurredAt:   entry.OccurredAt,
		DurationMin:  entry.DurationMin,
		EXPGained:    entry.EXPGained,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Delete removes the entry and records an activity.reversed outbox event in
// the same transaction. Deleting an absent entry is a no-op.
func (r *Repository) Delete(ctx context.Context, userID, activityID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx,
		`SELECT activity_type, exp_gained FROM activities WHERE user_id=$1 AND activity_id=$2 FOR UPDATE`,
		userID, activityID)

	var (
		activityType string
		expGained    float64
	)
	if scanErr := row.Scan(&activityType, &expGained); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return tx.Commit(ctx)
		}
		err = scanErr
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM activities WHERE user_id=$1 AND activity_id=$2`, userID, activityID); err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:activity.reversed", activityID)
	if err = insertOutbox(ctx, tx, "activity.reversed", activityID, userID, dedupeKey, events.ActivityReversed{
		ActivityID:   activityID,
		UserID:       userID,
		ActivityType: activityType,
		EXPReversed:  expGained,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListByUser returns entries ordered newest first with keyset pagination.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityLogEntry, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT activity_id, user_id, activity_type, duration_min, occurred_at, stat_gains, exp_gained, created_at
        FROM activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (occurred_at, activity_id) < ($3, $4)`
		args = append(args, cursor.OccurredAt, cursor.ID)
	}

	query += ` ORDER BY occurred_at DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityLogEntry, 0, limit)
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ListUserIDs returns every known user ID. The degradation sweeper iterates
// this to decay neglected categories.
func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordDegradation records a stats.degraded outbox event for a completed
// sweep.
func (r *Repository) RecordDegradation(ctx context.Context, userID string, occurredAt time.Time, amounts map[domain.Category]float64) error {
	payload := events.StatsDegraded{
		UserID:     userID,
		Amounts:    make(map[string]float64, len(amounts)),
		OccurredAt: occurredAt,
	}
	for category, amount := range amounts {
		payload.Amounts[string(category)] = amount
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	dedupeKey := fmt.Sprintf("%s:stats.degraded:%d", userID, occurredAt.UnixNano())
	if err = insertOutbox(ctx, tx, "stats.degraded", userID, userID, dedupeKey, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*domain.ActivityLogEntry, error) {
	var (
		entry        domain.ActivityLogEntry
		activityType string
		gainsRaw     []byte
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &activityType, &entry.DurationMin, &entry.OccurredAt, &gainsRaw, &entry.EXPGained, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.Type = domain.ParseActivityType(activityType)

	gains, err := decodeStats(gainsRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding stat gains for activity %s: %w", entry.ID, err)
	}
	entry.StatGains = gains
	return &entry, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID, userID, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		meta.AggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		userID,
		body,
		dedupeKey,
	)
	return err
}

func encodeStats(stats map[domain.StatType]float64) ([]byte, error) {
	out := make(map[string]float64, len(stats))
	for stat, value := range stats {
		out[string(stat)] = value
	}
	return json.Marshal(out)
}

func decodeStats(raw []byte) (map[domain.StatType]float64, error) {
	if len(raw) == 0 {
		return map[domain.StatType]float64{}, nil
	}
	var decoded map[string]float64
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make(map[domain.StatType]float64, len(decoded))
	for key, value := range decoded {
		if stat, ok := domain.ParseStatType(key); ok {
			out[stat] = value
		}
	}
	return out, nil
}

func encodeLastActivity(last map[domain.ActivityType]time.Time) ([]byte, error) {
	out := make(map[string]time.Time, len(last))
	for activityType, ts := range last {
		out[string(activityType)] = ts
	}
	return json.Marshal(out)
}

func decodeLastActivity(raw []byte) (map[domain.ActivityType]time.Time, error) {
	if len(raw) == 0 {
		return map[domain.ActivityType]time.Time{}, nil
	}
	var decoded map[string]time.Time
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := make(map[domain.ActivityType]time.Time, len(decoded))
	for key, ts := range decoded {
		out[domain.ParseActivityType(key)] = ts
	}
	return out, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	AggregateType string
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.logged": {
		AggregateType: "activity",
		Topic:         "progression_events",
		SchemaSubject: "progression_events-value",
	},
	"activity.reversed": {
		AggregateType: "activity",
		Topic:         "progression_events",
		SchemaSubject: "progression_events-value",
	},
	"level.changed": {
		AggregateType: "user",
		Topic:         "level_changed",
		SchemaSubject: "level_changed-value",
	},
	"stats.degraded": {
		AggregateType: "user",
		Topic:         "progression_events",
		SchemaSubject: "progression_events-value",
	},
}
