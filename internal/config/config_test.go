package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cqlwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:9042", cfg.Driver.ContactPoint)
	assert.Equal(t, DefaultProtocolVersion, cfg.Driver.ProtocolVersion)
	assert.Equal(t, CompressionNone, cfg.Driver.Compression)
	assert.Equal(t, DefaultWorkers, cfg.Queue.Workers)
	assert.Equal(t, DefaultQueueSize, cfg.Queue.Size)
	assert.Equal(t, DefaultIdleFlushCutoff, cfg.Queue.IdleFlushCutoff)

	timeout, err := cfg.Driver.ConnectTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, timeout)

	writeTimeout, err := cfg.Driver.WriteTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultWriteTimeout, writeTimeout)

	interval, err := cfg.Queue.FlushIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultFlushInterval, interval)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[driver]
contact_point = "10.0.0.5:9042"
compression = "lz4"
connect_timeout = "2s"
write_timeout = "10s"

[queue]
workers = 4
size = 512
flush_interval = "100us"
idle_flush_cutoff = 3

[logging]
level = "debug"
console = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:9042", cfg.Driver.ContactPoint)
	assert.Equal(t, CompressionLZ4, cfg.Driver.Compression)
	timeout, err := cfg.Driver.ConnectTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)
	writeTimeout, err := cfg.Driver.WriteTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, writeTimeout)

	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 512, cfg.Queue.Size)
	assert.Equal(t, 3, cfg.Queue.IdleFlushCutoff)
	interval, err := cfg.Queue.FlushIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Microsecond, interval)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
}

func TestLoadConfigPartialFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[driver]
contact_point = "node:9042"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Everything not set falls back to defaults.
	assert.Equal(t, "node:9042", cfg.Driver.ContactPoint)
	assert.Equal(t, DefaultProtocolVersion, cfg.Driver.ProtocolVersion)
	assert.Equal(t, DefaultWorkers, cfg.Queue.Workers)
	assert.Equal(t, DefaultQueueSize, cfg.Queue.Size)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty contact point", func(c *Config) { c.Driver.ContactPoint = "" }},
		{"unknown compression", func(c *Config) { c.Driver.Compression = "zstd" }},
		{"bad connect timeout", func(c *Config) { c.Driver.ConnectTimeout = "soon" }},
		{"bad write timeout", func(c *Config) { c.Driver.WriteTimeout = "later" }},
		{"negative write timeout", func(c *Config) { c.Driver.WriteTimeout = "-1s" }},
		{"bad flush interval", func(c *Config) { c.Queue.FlushInterval = "fast" }},
		{"negative flush interval", func(c *Config) { c.Queue.FlushInterval = "-1ms" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsMissingSections(t *testing.T) {
	t.Parallel()

	cfg := &Config{Driver: &DriverConfig{ContactPoint: "node:9042"}}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Queue)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, DefaultQueueSize, cfg.Queue.Size)
	assert.Equal(t, CompressionNone, cfg.Driver.Compression)
}
