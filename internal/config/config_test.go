package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerConfigDefaults(t *testing.T) {
	t.Setenv("CONFIRM_EXTRACTION_URL", "http://extractor.local/v1/extract")

	cfg, err := LoadWorkerConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "CONFIRMATION_CANDIDATES", cfg.NATS.StreamName)
	assert.Equal(t, "pipeline-worker", cfg.NATS.ConsumerName)
	assert.Equal(t, 3, cfg.NATS.MaxDeliver)
	assert.Equal(t, 5*time.Minute, cfg.NATS.AckWait)
	assert.Equal(t, "intake", cfg.Blob.IntakePrefix)
	assert.Equal(t, "archive", cfg.Blob.ArchivePrefix)
	assert.Equal(t, 60*time.Second, cfg.Extraction.Timeout)
	assert.InDelta(t, 0.01, cfg.Matching.ValueTolerance, 1e-9)
	assert.Equal(t, 20, cfg.Worker.PoolSize)
	assert.Equal(t, 2048, cfg.Worker.QueueSize)
}

func TestLoadWorkerConfigRequiresExtractionURL(t *testing.T) {
	_, err := LoadWorkerConfig("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction.url")
}

func TestLoadWorkerConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONFIRM_EXTRACTION_URL", "http://extractor.local/v1/extract")
	t.Setenv("CONFIRM_DATABASE_HOST", "db.internal")
	t.Setenv("CONFIRM_DATABASE_PASSWORD", "s3cret")
	t.Setenv("CONFIRM_MATCHING_VALUE_TOLERANCE", "0.005")
	t.Setenv("CONFIRM_WORKER_POOL_SIZE", "8")

	cfg, err := LoadWorkerConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.InDelta(t, 0.005, cfg.Matching.ValueTolerance, 1e-9)
	assert.Equal(t, 8, cfg.Worker.PoolSize)
}

func TestLoadIntakeConfigRequiresSharedSecret(t *testing.T) {
	_, err := LoadIntakeConfig("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push.shared_secret")
}

func TestLoadIntakeConfig(t *testing.T) {
	t.Setenv("CONFIRM_PUSH_SHARED_SECRET", "hook-secret")
	t.Setenv("CONFIRM_AUTH_API_KEYS", "key-a,key-b")

	cfg, err := LoadIntakeConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "hook-secret", cfg.Push.SharedSecret)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.APIKeys)
}

func TestLoadSweeperConfigDefaults(t *testing.T) {
	cfg, err := LoadSweeperConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.OrphanSweep.Interval)
	assert.Equal(t, 10*time.Minute, cfg.OrphanSweep.ClaimTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Backstop.Interval)
	assert.Equal(t, 5, cfg.Backstop.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.ArchiveRetry.Interval)
	assert.Equal(t, 100, cfg.ArchiveRetry.BatchSize)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "confirm",
		Password: "pw",
		DBName:   "confirmations",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=confirm password=pw dbname=confirmations sslmode=disable",
		cfg.DSN())
}
