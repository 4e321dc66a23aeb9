package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, time.Hour, cfg.DegradationInterval)
	require.False(t, cfg.RelaxedWeekend)
	require.NotEmpty(t, cfg.KafkaBrokers)
	require.NotEmpty(t, cfg.ConsumerTopics)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("OUTBOX_BATCH_SIZE", "50")
	t.Setenv("DEGRADATION_INTERVAL", "15m")
	t.Setenv("RELAXED_WEEKEND", "true")

	cfg := Load()
	require.Equal(t, ":7070", cfg.HTTPAddress)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 50, cfg.OutboxBatchSize)
	require.Equal(t, 15*time.Minute, cfg.DegradationInterval)
	require.True(t, cfg.RelaxedWeekend)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")
	t.Setenv("DEGRADATION_INTERVAL", "soon")

	cfg := Load()
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, time.Hour, cfg.DegradationInterval)
}
