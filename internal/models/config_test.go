package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
database_url: "postgres://localhost/test"
kafka_brokers:
  - "broker1:9092"
  - "broker2:9092"
s3_bucket: "test-bucket"
retention_ttl: 24h
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "test-bucket", cfg.S3Bucket)
	assert.Equal(t, 24*time.Hour, cfg.RetentionTTL.Std())

	// Defaults.
	assert.Equal(t, int64(50), cfg.MaxUploadMB)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadBytes())
	assert.Equal(t, "auto", cfg.S3Region)
	assert.Equal(t, "image-pipeline", cfg.KafkaGroupID)
	assert.Equal(t, time.Hour, cfg.RetentionInterval.Std())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
