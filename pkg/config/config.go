// Package config loads the quill daemon configuration from YAML or JSON
// files with optional environment variable overrides.
package config

import (
	"fmt"
	"time"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// QUILL_LEDGER_BACKEND or QUILL_LOCK_DSN.
const EnvPrefix = "QUILL"

// Config is the full daemon configuration.
type Config struct {
	Segment  SegmentConfig  `yaml:"segment" json:"segment"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Lock     LockConfig     `yaml:"lock" json:"lock"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
}

// SegmentConfig controls the journal writer itself.
type SegmentConfig struct {
	Name                  string        `yaml:"name" json:"name"`
	FirstTxID             uint64        `yaml:"first_txid" json:"first_txid"`
	TransmissionThreshold int           `yaml:"transmission_threshold" json:"transmission_threshold"`
	FailurePolicy         string        `yaml:"failure_policy" json:"failure_policy"` // report or fence
	SealInterval          Duration      `yaml:"seal_interval" json:"seal_interval"`
}

// LedgerConfig selects and configures the replicated log backend.
type LedgerConfig struct {
	Backend string `yaml:"backend" json:"backend"` // memory, file, jetstream or kafka

	File      FileConfig      `yaml:"file" json:"file"`
	JetStream JetStreamConfig `yaml:"jetstream" json:"jetstream"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
}

// FileConfig configures the local file backend.
type FileConfig struct {
	Dir   string `yaml:"dir" json:"dir"`
	Fsync bool   `yaml:"fsync" json:"fsync"`
}

// JetStreamConfig configures the NATS JetStream backend.
type JetStreamConfig struct {
	URL        string        `yaml:"url" json:"url"`
	Stream     string        `yaml:"stream" json:"stream"`
	Subject    string        `yaml:"subject" json:"subject"`
	Replicas   int           `yaml:"replicas" json:"replicas"`
	MaxAge     Duration      `yaml:"max_age" json:"max_age"`
	AckTimeout Duration      `yaml:"ack_timeout" json:"ack_timeout"`
}

// KafkaConfig configures the Kafka backend.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	Topic    string   `yaml:"topic" json:"topic"`
	RetryMax int      `yaml:"retry_max" json:"retry_max"`
}

// LockConfig selects and configures write lock arbitration.
type LockConfig struct {
	Backend    string        `yaml:"backend" json:"backend"` // memory, db or postgres
	DSN        string        `yaml:"dsn" json:"dsn"`
	Driver     string        `yaml:"driver" json:"driver"` // sqlite3 or postgres, db backend only
	LeaseTTL   Duration      `yaml:"lease_ttl" json:"lease_ttl"`
	CheckCache Duration      `yaml:"check_cache" json:"check_cache"`
}

// RegistryConfig configures segment metadata storage.
type RegistryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn" json:"dsn"`
	Driver  string `yaml:"driver" json:"driver"` // sqlite3 or postgres
}

// WebConfig configures the status and metrics endpoint.
type WebConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn or error
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Exporter   string  `yaml:"exporter" json:"exporter"` // stdout, jaeger or zipkin
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Segment: SegmentConfig{
			Name:                  "segment-1",
			FirstTxID:             1,
			TransmissionThreshold: 1024,
			FailurePolicy:         "report",
			SealInterval:          Duration(2 * time.Second),
		},
		Ledger: LedgerConfig{
			Backend: "memory",
			File: FileConfig{
				Dir:   "data",
				Fsync: true,
			},
			JetStream: JetStreamConfig{
				Stream:     "QUILL",
				Subject:    "quill.segment.default",
				Replicas:   1,
				AckTimeout: Duration(30 * time.Second),
			},
			Kafka: KafkaConfig{
				Topic:    "quill-segments",
				RetryMax: 5,
			},
		},
		Lock: LockConfig{
			Backend:    "memory",
			Driver:     "sqlite3",
			LeaseTTL:   Duration(30 * time.Second),
			CheckCache: Duration(time.Second),
		},
		Registry: RegistryConfig{
			Driver: "sqlite3",
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
}

// Load reads the file at path (if non-empty) on top of defaults and applies
// QUILL_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Segment.Name == "" {
		return fmt.Errorf("segment.name must not be empty")
	}
	if c.Segment.FirstTxID == 0 {
		return fmt.Errorf("segment.first_txid must be at least 1")
	}
	if c.Segment.TransmissionThreshold <= 0 {
		return fmt.Errorf("segment.transmission_threshold must be positive, got %d", c.Segment.TransmissionThreshold)
	}
	switch c.Segment.FailurePolicy {
	case "report", "fence":
	default:
		return fmt.Errorf("segment.failure_policy must be report or fence, got %q", c.Segment.FailurePolicy)
	}
	switch c.Ledger.Backend {
	case "memory":
	case "file":
		if c.Ledger.File.Dir == "" {
			return fmt.Errorf("ledger.file.dir is required for the file backend")
		}
	case "jetstream":
		if c.Ledger.JetStream.URL == "" {
			return fmt.Errorf("ledger.jetstream.url is required for the jetstream backend")
		}
	case "kafka":
		if len(c.Ledger.Kafka.Brokers) == 0 {
			return fmt.Errorf("ledger.kafka.brokers is required for the kafka backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be memory, file, jetstream or kafka, got %q", c.Ledger.Backend)
	}
	switch c.Lock.Backend {
	case "memory":
	case "db", "postgres":
		if c.Lock.DSN == "" {
			return fmt.Errorf("lock.dsn is required for the %s lock backend", c.Lock.Backend)
		}
	default:
		return fmt.Errorf("lock.backend must be memory, db or postgres, got %q", c.Lock.Backend)
	}
	if c.Registry.Enabled && c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn is required when the registry is enabled")
	}
	switch c.Tracing.Exporter {
	case "stdout", "jaeger", "zipkin":
	default:
		return fmt.Errorf("tracing.exporter must be stdout, jaeger or zipkin, got %q", c.Tracing.Exporter)
	}
	return nil
}
