package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
database:
  driver: mysql
  host: db.internal
  user: ledger
engine:
  lock_backend: redis
  lock_wait: 750ms
  lock_ttl: 20s
  commit_timeout: 2s
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("LEDGER_SERVER_PORT", "7070")
	t.Setenv("LEDGER_ENGINE_DEFAULT_CURRENCY", "EUR")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env wins over file")
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port, "default kept")
	assert.Equal(t, LockBackendRedis, cfg.Engine.LockBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.LockWait)
	assert.Equal(t, 20*time.Second, cfg.Engine.LockTTL)
	assert.Equal(t, 2*time.Second, cfg.Engine.CommitTimeout)
	assert.Equal(t, "EUR", cfg.Engine.DefaultCurrency)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger.transaction.committed", cfg.Kafka.Topic.TransactionCommitted)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Setenv("LEDGER_ENGINE_LOCK_BACKEND", "zookeeper")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"lock backend", func(c *Config) { c.Engine.LockBackend = "etcd" }},
		{"lock wait", func(c *Config) { c.Engine.LockWait = 0 }},
		{"commit timeout", func(c *Config) { c.Engine.CommitTimeout = -time.Second }},
		{"ttl shorter than commit", func(c *Config) {
			c.Engine.LockBackend = LockBackendRedis
			c.Engine.LockTTL = c.Engine.CommitTimeout
		}},
		{"currency", func(c *Config) { c.Engine.DefaultCurrency = "ZLOTY" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
