package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Compression names a negotiated frame-body compression mode. The codec
// itself lives behind the framer collaborator; the connection core only
// carries the negotiated label.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
)

// Config is the top-level configuration for the driver core.
type Config struct {
	Driver  *DriverConfig  `toml:"driver,omitempty"`
	Queue   *QueueConfig   `toml:"queue,omitempty"`
	Logging *LoggingConfig `toml:"logging,omitempty"`
}

// DriverConfig holds per-connection settings.
type DriverConfig struct {
	// ContactPoint is the host:port of the node to connect to.
	ContactPoint string `toml:"contact_point"`
	// ProtocolVersion is sent in the STARTUP frame.
	ProtocolVersion string `toml:"protocol_version,omitempty"`
	// Compression requested during startup: none, snappy or lz4.
	Compression Compression `toml:"compression,omitempty"`
	// ConnectTimeout bounds socket establishment, e.g. "5s".
	ConnectTimeout string `toml:"connect_timeout,omitempty"`
	// WriteTimeout bounds each socket write, e.g. "30s".
	WriteTimeout string `toml:"write_timeout,omitempty"`
	// TLS enables the transport security layer.
	TLS bool `toml:"tls,omitempty"`
}

// QueueConfig holds the coalescing request queue settings.
type QueueConfig struct {
	// Workers is the number of worker execution contexts.
	Workers int `toml:"workers,omitempty"`
	// Size bounds each worker's submission queue.
	Size int `toml:"size,omitempty"`
	// FlushInterval is the fallback flush timer period, e.g. "200us".
	FlushInterval string `toml:"flush_interval,omitempty"`
	// IdleFlushCutoff is the number of consecutive empty timer-driven
	// flush cycles after which the fallback timer stops. Tunable, not a
	// contract.
	IdleFlushCutoff int `toml:"idle_flush_cutoff,omitempty"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is the minimum severity: debug, info, warning or error.
	Level string `toml:"level,omitempty"`
	// Console selects human-readable output instead of JSON.
	Console bool `toml:"console,omitempty"`
}

// Defaults applied by DefaultConfig and during validation.
const (
	DefaultProtocolVersion = "3.0.0"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultWorkers         = 2
	DefaultQueueSize       = 1024
	DefaultFlushInterval   = 200 * time.Microsecond
	DefaultIdleFlushCutoff = 5
)

// DefaultConfig returns a fully-populated configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver: &DriverConfig{
			ContactPoint:    "127.0.0.1:9042",
			ProtocolVersion: DefaultProtocolVersion,
			Compression:     CompressionNone,
			ConnectTimeout:  DefaultConnectTimeout.String(),
			WriteTimeout:    DefaultWriteTimeout.String(),
		},
		Queue: &QueueConfig{
			Workers:         DefaultWorkers,
			Size:            DefaultQueueSize,
			FlushInterval:   DefaultFlushInterval.String(),
			IdleFlushCutoff: DefaultIdleFlushCutoff,
		},
		Logging: &LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads, defaults and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills absent sections with
// defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Driver == nil {
		c.Driver = def.Driver
	}
	if c.Queue == nil {
		c.Queue = def.Queue
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}

	if c.Driver.ContactPoint == "" {
		return fmt.Errorf("driver.contact_point must not be empty")
	}
	if c.Driver.ProtocolVersion == "" {
		c.Driver.ProtocolVersion = DefaultProtocolVersion
	}
	switch c.Driver.Compression {
	case "", CompressionNone, CompressionSnappy, CompressionLZ4:
		if c.Driver.Compression == "" {
			c.Driver.Compression = CompressionNone
		}
	default:
		return fmt.Errorf("driver.compression %q is not one of none, snappy, lz4", c.Driver.Compression)
	}
	if _, err := c.Driver.ConnectTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Driver.WriteTimeoutDuration(); err != nil {
		return err
	}

	if c.Queue.Workers <= 0 {
		c.Queue.Workers = DefaultWorkers
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = DefaultQueueSize
	}
	if c.Queue.IdleFlushCutoff <= 0 {
		c.Queue.IdleFlushCutoff = DefaultIdleFlushCutoff
	}
	if _, err := c.Queue.FlushIntervalDuration(); err != nil {
		return err
	}
	return nil
}

// ConnectTimeoutDuration parses the connect timeout.
func (d *DriverConfig) ConnectTimeoutDuration() (time.Duration, error) {
	if d.ConnectTimeout == "" {
		return DefaultConnectTimeout, nil
	}
	t, err := time.ParseDuration(d.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid driver.connect_timeout %q: %w", d.ConnectTimeout, err)
	}
	return t, nil
}

// WriteTimeoutDuration parses the per-write socket bound.
func (d *DriverConfig) WriteTimeoutDuration() (time.Duration, error) {
	if d.WriteTimeout == "" {
		return DefaultWriteTimeout, nil
	}
	t, err := time.ParseDuration(d.WriteTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid driver.write_timeout %q: %w", d.WriteTimeout, err)
	}
	if t <= 0 {
		return 0, fmt.Errorf("driver.write_timeout must be positive")
	}
	return t, nil
}

// FlushIntervalDuration parses the fallback flush timer period.
func (q *QueueConfig) FlushIntervalDuration() (time.Duration, error) {
	if q.FlushInterval == "" {
		return DefaultFlushInterval, nil
	}
	t, err := time.ParseDuration(q.FlushInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid queue.flush_interval %q: %w", q.FlushInterval, err)
	}
	if t <= 0 {
		return 0, fmt.Errorf("queue.flush_interval must be positive")
	}
	return t, nil
}
