// Package config loads bus configuration from a YAML file with environment
// overrides. Configuration is construction-time only; there is no hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one bus-hosting service.
type Config struct {
	Service string `yaml:"service" env:"TENANTBUS_SERVICE"`

	Bus    Bus    `yaml:"bus"`
	NATS   NATS   `yaml:"nats"`
	Kafka  Kafka  `yaml:"kafka"`
	AMQP   AMQP   `yaml:"amqp"`
	SQLite SQLite `yaml:"sqlite"`
}

// Bus tunes the broker loops and retention.
type Bus struct {
	MaxStreamLen  int64 `yaml:"max_stream_len" env:"TENANTBUS_MAX_STREAM_LEN"`
	ReadBatch     int64 `yaml:"read_batch" env:"TENANTBUS_READ_BATCH"`
	ReadBlockMs   int   `yaml:"read_block_ms" env:"TENANTBUS_READ_BLOCK_MS"`
	ReadBackoffMs int   `yaml:"read_backoff_ms" env:"TENANTBUS_READ_BACKOFF_MS"`
	CacheSize     int   `yaml:"tenant_cache_size" env:"TENANTBUS_TENANT_CACHE_SIZE"`
}

// ReadBlock returns the blocking-read timeout as a duration.
func (b Bus) ReadBlock() time.Duration { return time.Duration(b.ReadBlockMs) * time.Millisecond }

// ReadBackoff returns the transient-error backoff as a duration.
func (b Bus) ReadBackoff() time.Duration { return time.Duration(b.ReadBackoffMs) * time.Millisecond }

// NATS configures the JetStream log backend.
type NATS struct {
	URL string `yaml:"url" env:"TENANTBUS_NATS_URL"`
}

// Kafka configures the Kafka log backend.
type Kafka struct {
	Brokers []string `yaml:"brokers" env:"TENANTBUS_KAFKA_BROKERS" envSeparator:","`
}

// AMQP configures the optional mirror relay.
type AMQP struct {
	URL      string `yaml:"url" env:"TENANTBUS_AMQP_URL"`
	Exchange string `yaml:"exchange" env:"TENANTBUS_AMQP_EXCHANGE"`
}

// SQLite configures the persistent KV backend.
type SQLite struct {
	Path string `yaml:"path" env:"TENANTBUS_SQLITE_PATH"`
}

// Load reads the YAML file at path (optional: empty path skips the file),
// applies environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config env overrides: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "tenant-bus"
	}

	if cfg.Bus.MaxStreamLen == 0 {
		cfg.Bus.MaxStreamLen = 10000
	}

	if cfg.Bus.ReadBatch == 0 {
		cfg.Bus.ReadBatch = 10
	}

	if cfg.Bus.ReadBlockMs == 0 {
		cfg.Bus.ReadBlockMs = 1000
	}

	if cfg.Bus.ReadBackoffMs == 0 {
		cfg.Bus.ReadBackoffMs = 500
	}

	if cfg.Bus.CacheSize == 0 {
		cfg.Bus.CacheSize = 1024
	}
}
