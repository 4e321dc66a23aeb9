//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestDispatcherPublishesClaimedEvents(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	userID := uuid.NewString()
	activityID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, userID, activityID, "activity.logged"))

	publisher := &fakePublisher{}
	dispatcher := NewDispatcher(pool, publisher, &fakeResolver{id: 42}, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, publisher.batches, 1)
	require.Equal(t, TopicProgressionEvents, publisher.batches[0].topic)
	require.Len(t, publisher.batches[0].records, 1)

	record := publisher.batches[0].records[0]
	require.Equal(t, userID, string(record.Key), "records are keyed by user for per-user ordering")
	require.Equal(t, byte(0), record.Value[0])

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesFailedDeliveriesToDLQ(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	userID := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, userID, uuid.NewString(), "activity.reversed")
	require.NotZero(t, eventID)

	publisher := &fakePublisher{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, publisher, &fakeResolver{id: 7}, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(TopicProgressionEvents))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(TopicProgressionEvents)), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published, "DLQ-routed events must not be re-claimed")
}

func TestDispatcherResolvesSchemaIDOnce(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	userID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, userID, uuid.NewString(), "activity.logged"))
	require.NotZero(t, seedOutbox(t, ctx, pool, userID, uuid.NewString(), "activity.logged"))

	var lookups int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups++
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		_, _ = w.Write([]byte(`{"id": 21}`))
	}))
	defer srv.Close()

	publisher := &fakePublisher{}
	dispatcher := NewDispatcher(pool, publisher, NewSchemaRegistry(srv.URL), 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, publisher.batches, 1)
	require.Len(t, publisher.batches[0].records, 2)
	require.Equal(t, 1, lookups, "the subject's schema ID is cached after the first resolution")

	// Both records carry the resolved ID in the wire-format header.
	for _, record := range publisher.batches[0].records {
		require.Equal(t, []byte{0, 0, 0, 0, 21}, record.Value[:5])
	}
}

func TestDispatcherQuarantinesUnknownEventTypes(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	userID := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, userID, uuid.NewString(), "activity.unknown")
	require.NotZero(t, eventID)

	publisher := &fakePublisher{}
	resolver := &fakeResolver{id: 99}
	dispatcher := NewDispatcher(pool, publisher, resolver, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, publisher.batches, "nothing reaches kafka without schema metadata")
	require.Empty(t, resolver.calls)

	var dlqCount int
	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&dlqCount, &reason))
	require.Equal(t, 1, dlqCount)
	require.Contains(t, reason, "no schema metadata for event_type=activity.unknown")

	var publishedAt time.Time
	require.NoError(t, pool.QueryRow(ctx, `SELECT published_at FROM outbox WHERE event_id = $1`, eventID).Scan(&publishedAt))
	require.False(t, publishedAt.IsZero(), "quarantined events leave the claim queue")
}

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	batches []publishedBatch
}

type publishedBatch struct {
	topic   string
	records []kafka.Message
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, records ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, publishedBatch{
		topic:   topic,
		records: append([]kafka.Message(nil), records...),
	})
	return nil
}

type fakeResolver struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []string
}

func (r *fakeResolver) SchemaID(ctx context.Context, subject, schema string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, subject)
	if r.err != nil {
		return 0, r.err
	}
	return r.id, nil
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("progression"),
		postgrescontainer.WithUsername("progression"),
		postgrescontainer.WithPassword("progression"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID, activityID, eventType string) int64 {
	t.Helper()

	payload, err := json.Marshal(map[string]string{
		"activity_id": activityID,
		"user_id":     userID,
	})
	require.NoError(t, err)

	var eventID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		"activity", activityID, eventType,
		TopicProgressionEvents, TopicProgressionEvents+"-value",
		userID, payload,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, file := range files {
		contents, err := os.ReadFile(file)
		require.NoErrorf(t, err, "read %s", file)
		_, err = pool.Exec(ctx, string(contents))
		require.NoErrorf(t, err, "apply %s", file)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	var lastErr error
	for attempt := 0; attempt < 30; attempt++ {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			lastErr = pool.Ping(ctx)
			pool.Close()
			if lastErr == nil {
				return nil
			}
		} else {
			lastErr = err
		}
		time.Sleep(time.Second)
	}
	return lastErr
}
