// Package config provides configuration loading, defaults, and validation for
// the LogPipe-Agents pipeline.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultLogDir      = "logs"
	DefaultMetricsPort = 9090

	DefaultBufferRows           = 500
	DefaultFetchLogsInterval    = 120 * time.Second
	DefaultExecuteQueryInterval = 600 * time.Second

	DefaultMaxRetries = 5
	DefaultMaxWorkers = 10
	DefaultQueueSize  = 256

	DefaultKafkaAcks         = "all"
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 1 * time.Second
	DefaultKafkaWriteTimeout = 10 * time.Second
)

// ApplyDefaults fills every zero-value field in cfg with the pipeline default.
// Fields that have already been set by the operator are left unchanged so that
// explicit configuration always wins.  It must be called after unmarshalling
// and before Validate so that optional-but-defaulted fields are never seen as
// missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── App ───────────────────────────────────────────────────────────────────
	if cfg.App.Name == "" {
		cfg.App.Name = "logpipe"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = DefaultLogLevel
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = DefaultLogFormat
	}
	if cfg.App.LogDir == "" {
		cfg.App.LogDir = DefaultLogDir
	}
	if cfg.App.MetricsPort == 0 {
		cfg.App.MetricsPort = DefaultMetricsPort
	}

	// ── Agents ────────────────────────────────────────────────────────────────
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.BufferRows == 0 {
			a.BufferRows = DefaultBufferRows
		}
		if a.FetchLogsInterval == 0 {
			a.FetchLogsInterval = DefaultFetchLogsInterval
		}
		if a.ExecuteQueryInterval == 0 {
			a.ExecuteQueryInterval = DefaultExecuteQueryInterval
		}
	}

	// ── Databases ─────────────────────────────────────────────────────────────
	for i := range cfg.Databases {
		d := &cfg.Databases[i]
		if d.MaxRetries == 0 {
			d.MaxRetries = DefaultMaxRetries
		}
		if d.MaxWorkers == 0 {
			d.MaxWorkers = DefaultMaxWorkers
		}
		if d.QueueSize == 0 {
			d.QueueSize = DefaultQueueSize
		}
		if d.SSLMode == "" {
			d.SSLMode = "disable"
		}
	}

	// ── Producers ─────────────────────────────────────────────────────────────
	for i := range cfg.Producers {
		p := &cfg.Producers[i]
		if p.MaxRetries == 0 {
			p.MaxRetries = DefaultMaxRetries
		}
		if p.QueueSize == 0 {
			p.QueueSize = DefaultQueueSize
		}
		if p.Type == "kafka" {
			if p.Kafka.Acks == "" {
				p.Kafka.Acks = DefaultKafkaAcks
			}
			if p.Kafka.BatchSize == 0 {
				p.Kafka.BatchSize = DefaultKafkaBatchSize
			}
			if p.Kafka.BatchTimeout == 0 {
				p.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
			}
			if p.Kafka.WriteTimeout == 0 {
				p.Kafka.WriteTimeout = DefaultKafkaWriteTimeout
			}
		}
	}
}
