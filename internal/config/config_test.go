package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEADVAULT_WORKERS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, defaultWorkerCount, cfg.ProcessingPool)
	assert.Equal(t, 7*24*time.Hour, cfg.SweepInterval)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.Equal(t, int64(10<<20), cfg.MaxFileSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEADVAULT_SIGNING_SECRET", "topsecret")
	t.Setenv("LEADVAULT_INFRA_FAILURE_THRESHOLD", "9")
	t.Setenv("LEADVAULT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LEADVAULT_ROW_RETRY_BACKOFF", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []byte("topsecret"), cfg.SigningSecret)
	assert.Equal(t, 9, cfg.InfraFailureThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Second, cfg.RowRetryBackoff)
}
