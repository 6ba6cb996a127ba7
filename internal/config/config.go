// Package config defines all configuration structures for the LogPipe-Agents
// pipeline.  No loading or parsing logic lives here — only plain data types
// and validation; the only I/O is Validate's existence check on monitored
// paths.  Loading is in loader.go, defaulting in defaults.go.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Application (base.yaml)
// ─────────────────────────────────────────────────────────────────────────────

// AppConfig holds process-wide settings from base.yaml.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	LogDir      string `mapstructure:"log_dir"`
	LogLevel    string `mapstructure:"log_level"`  // "debug" | "info" | "warn" | "error"
	LogFormat   string `mapstructure:"log_format"` // "json" | "console"
	MetricsPort int    `mapstructure:"metrics_port"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Agents (agents.yaml)
// ─────────────────────────────────────────────────────────────────────────────

// PathFileConfig identifies one monitored log file.
type PathFileConfig struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Cursor int64  `mapstructure:"cursor"`
}

// RegexSourceConfig ties a data connection to a monitored file and the named
// pattern extracting fields from its lines.
type RegexSourceConfig struct {
	PathFileName string `mapstructure:"path_file_name"`
	Pattern      string `mapstructure:"regex_pattern"`
}

// QueryRefConfig ties a data connection to an enrichment query on a shared
// database.  Parameters are bound by name from the transform result.
type QueryRefConfig struct {
	DatabaseType string `mapstructure:"type"`
	DatabaseName string `mapstructure:"name"`
	Query        string `mapstructure:"query"`
}

// DataConnectionConfig describes one extraction→enrichment→publish flow.
type DataConnectionConfig struct {
	Name           string             `mapstructure:"name"`
	IsError        bool               `mapstructure:"is_error"`
	IsWarning      bool               `mapstructure:"is_warning"`
	SourceRef      *RegexSourceConfig `mapstructure:"source_ref"`
	DestinationRef *QueryRefConfig    `mapstructure:"destination_ref"`
	// TTLMinutes bounds the lifetime of working records spawned by this
	// connection.  Zero means records never auto-expire.
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// ProducerConnectionConfig binds a group of data connections to one shared
// producer and topic.
type ProducerConnectionConfig struct {
	Type            string                 `mapstructure:"type"`
	Name            string                 `mapstructure:"name"`
	Topic           string                 `mapstructure:"topic"`
	DataConnections []DataConnectionConfig `mapstructure:"data_connections"`
}

// AgentConfig describes one pipeline agent.
type AgentConfig struct {
	Type                string                     `mapstructure:"type"`
	Name                string                     `mapstructure:"name"`
	BufferRows          int                        `mapstructure:"buffer_rows"`
	PathFiles           []PathFileConfig           `mapstructure:"path_files"`
	ProducerConnections []ProducerConnectionConfig `mapstructure:"producer_connections"`
	FetchLogsInterval   time.Duration              `mapstructure:"fetch_logs_interval"`
	ExecuteQueryInterval time.Duration             `mapstructure:"execute_query_interval"`
	// Options carries agent-type-specific settings, e.g. the jsonfield
	// transform's "json_source" and "json_fields" keys.
	Options map[string]string `mapstructure:"options"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Databases (databases.yaml)
// ─────────────────────────────────────────────────────────────────────────────

// EndpointConfig is one database network endpoint.
type EndpointConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ServiceName string `mapstructure:"service_name"`
}

// DatabaseConfig describes one shared database resource.
type DatabaseConfig struct {
	Type       string          `mapstructure:"type"`
	Name       string          `mapstructure:"name"`
	Username   string          `mapstructure:"username"`
	Password   string          `mapstructure:"password"`
	Primary    EndpointConfig  `mapstructure:"primary"`
	Replica    *EndpointConfig `mapstructure:"replica"`
	SSLMode    string          `mapstructure:"ssl_mode"`
	MaxRetries int             `mapstructure:"max_retries"`
	MaxWorkers int             `mapstructure:"max_workers"`
	QueueSize  int             `mapstructure:"queue_size"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Producers (producers.yaml)
// ─────────────────────────────────────────────────────────────────────────────

// KafkaProducerConfig carries the kafka-specific producer settings.
type KafkaProducerConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Acks          string        `mapstructure:"acks"` // "none" | "one" | "all"
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	Compression   string        `mapstructure:"compression"` // "", "gzip", "snappy", "lz4", "zstd"
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	TLSCAFile     string        `mapstructure:"tls_ca_file"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"` // "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
}

// RedisProducerConfig carries the redis pub/sub producer settings.
type RedisProducerConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProducerConfig describes one shared producer resource.  The Kafka / Redis
// sub-blocks are read by the driver matching Type; the other block is ignored.
type ProducerConfig struct {
	Type       string              `mapstructure:"type"`
	Name       string              `mapstructure:"name"`
	Topics     []string            `mapstructure:"topics"`
	MaxRetries int                 `mapstructure:"max_retries"`
	QueueSize  int                 `mapstructure:"queue_size"`
	Kafka      KafkaProducerConfig `mapstructure:"kafka"`
	Redis      RedisProducerConfig `mapstructure:"redis"`
}

// AllowsTopic reports whether the producer may publish to topic.  An empty
// allowlist allows every topic.
func (p *ProducerConfig) AllowsTopic(topic string) bool {
	if len(p.Topics) == 0 {
		return true
	}
	for _, t := range p.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration for the whole pipeline process, merged from
// base.yaml, agents.yaml, databases.yaml, and producers.yaml.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Agents    []AgentConfig    `mapstructure:"agents"`
	Databases []DatabaseConfig `mapstructure:"databases"`
	Producers []ProducerConfig `mapstructure:"producers"`
}

// FindDatabase returns the configuration entry for a (type, name) database key.
func (c *Config) FindDatabase(typ, name string) (*DatabaseConfig, bool) {
	for i := range c.Databases {
		if c.Databases[i].Type == typ && c.Databases[i].Name == name {
			return &c.Databases[i], true
		}
	}
	return nil, false
}

// FindProducer returns the configuration entry for a (type, name) producer key.
func (c *Config) FindProducer(typ, name string) (*ProducerConfig, bool) {
	for i := range c.Producers {
		if c.Producers[i].Type == typ && c.Producers[i].Name == name {
			return &c.Producers[i], true
		}
	}
	return nil, false
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered, so a single invalid agent, database,
// or producer block rejects the whole configuration: LoadDir calls Validate
// and fails with that error, and no other block is loaded.  Blocks are not
// skipped individually here.
func (c *Config) Validate() error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: app.log_level %q is invalid; expected debug|info|warn|error", c.App.LogLevel)
	}
	switch c.App.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: app.log_format %q is invalid; expected json|console", c.App.LogFormat)
	}
	if c.App.MetricsPort < 1 || c.App.MetricsPort > 65535 {
		return fmt.Errorf("config: app.metrics_port %d is out of range [1, 65535]", c.App.MetricsPort)
	}

	for i := range c.Agents {
		if err := c.Agents[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.Databases {
		if err := c.Databases[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.Producers {
		if err := c.Producers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one agent block, including the cross-reference from every
// source_ref.path_file_name to a declared path file and the compilability of
// every pattern.
func (a *AgentConfig) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("config: agent type is required")
	}
	if a.Name == "" {
		return fmt.Errorf("config: agent name is required")
	}
	if a.BufferRows <= 0 {
		return fmt.Errorf("config: agent %s: buffer_rows must be > 0, got %d", a.Name, a.BufferRows)
	}
	if a.FetchLogsInterval <= 0 {
		return fmt.Errorf("config: agent %s: fetch_logs_interval must be > 0", a.Name)
	}
	if a.ExecuteQueryInterval <= 0 {
		return fmt.Errorf("config: agent %s: execute_query_interval must be > 0", a.Name)
	}
	if len(a.ProducerConnections) == 0 {
		return fmt.Errorf("config: agent %s: at least one producer connection is required", a.Name)
	}

	declared := make(map[string]struct{}, len(a.PathFiles))
	for _, pf := range a.PathFiles {
		if pf.Name == "" {
			return fmt.Errorf("config: agent %s: path file name is required", a.Name)
		}
		if pf.Path == "" {
			return fmt.Errorf("config: agent %s: path file %s: path is required", a.Name, pf.Name)
		}
		if _, err := os.Stat(pf.Path); err != nil {
			return fmt.Errorf("config: agent %s: path file %s: %q does not exist", a.Name, pf.Name, pf.Path)
		}
		if pf.Cursor < 0 {
			return fmt.Errorf("config: agent %s: path file %s: cursor must be ≥ 0", a.Name, pf.Name)
		}
		declared[pf.Name] = struct{}{}
	}

	for _, pc := range a.ProducerConnections {
		if pc.Type == "" || pc.Name == "" {
			return fmt.Errorf("config: agent %s: producer connection requires type and name", a.Name)
		}
		if pc.Topic == "" {
			return fmt.Errorf("config: agent %s: producer connection %s/%s requires a topic", a.Name, pc.Type, pc.Name)
		}
		for _, dc := range pc.DataConnections {
			if dc.Name == "" {
				return fmt.Errorf("config: agent %s: data connection name is required", a.Name)
			}
			if dc.TTLMinutes < 0 {
				return fmt.Errorf("config: agent %s: data connection %s: ttl_minutes must be ≥ 0", a.Name, dc.Name)
			}
			if dc.SourceRef != nil {
				if _, ok := declared[dc.SourceRef.PathFileName]; !ok {
					return fmt.Errorf("config: agent %s: data connection %s references unknown path file %q",
						a.Name, dc.Name, dc.SourceRef.PathFileName)
				}
				re, err := regexp.Compile(dc.SourceRef.Pattern)
				if err != nil {
					return fmt.Errorf("config: agent %s: data connection %s: invalid regex: %v", a.Name, dc.Name, err)
				}
				if !hasNamedGroup(re) {
					return fmt.Errorf("config: agent %s: data connection %s: pattern has no named capture groups", a.Name, dc.Name)
				}
			}
			if dc.DestinationRef != nil {
				if dc.DestinationRef.DatabaseType == "" || dc.DestinationRef.DatabaseName == "" {
					return fmt.Errorf("config: agent %s: data connection %s: destination_ref requires type and name", a.Name, dc.Name)
				}
				if dc.DestinationRef.Query == "" {
					return fmt.Errorf("config: agent %s: data connection %s: destination_ref requires a query", a.Name, dc.Name)
				}
			}
		}
	}
	return nil
}

// Validate checks one database block.
func (d *DatabaseConfig) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("config: database type is required")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database name is required")
	}
	if d.Username == "" {
		return fmt.Errorf("config: database %s: username is required", d.Name)
	}
	if d.Password == "" {
		return fmt.Errorf("config: database %s: password is required", d.Name)
	}
	if err := d.Primary.validate(d.Name, "primary"); err != nil {
		return err
	}
	if d.Replica != nil {
		if err := d.Replica.validate(d.Name, "replica"); err != nil {
			return err
		}
	}
	if d.MaxRetries <= 0 {
		return fmt.Errorf("config: database %s: max_retries must be > 0, got %d", d.Name, d.MaxRetries)
	}
	if d.MaxWorkers <= 0 {
		return fmt.Errorf("config: database %s: max_workers must be > 0, got %d", d.Name, d.MaxWorkers)
	}
	if d.QueueSize <= 0 {
		return fmt.Errorf("config: database %s: queue_size must be > 0, got %d", d.Name, d.QueueSize)
	}
	return nil
}

func (e *EndpointConfig) validate(db, role string) error {
	if e.Host == "" {
		return fmt.Errorf("config: database %s: %s.host is required", db, role)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("config: database %s: %s.port %d is out of range [1, 65535]", db, role, e.Port)
	}
	return nil
}

// Validate checks one producer block.
func (p *ProducerConfig) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("config: producer type is required")
	}
	if p.Name == "" {
		return fmt.Errorf("config: producer name is required")
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("config: producer %s: max_retries must be > 0, got %d", p.Name, p.MaxRetries)
	}
	if p.QueueSize <= 0 {
		return fmt.Errorf("config: producer %s: queue_size must be > 0, got %d", p.Name, p.QueueSize)
	}
	switch p.Type {
	case "kafka":
		if len(p.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: producer %s: kafka.brokers must contain at least one address", p.Name)
		}
		switch p.Kafka.Acks {
		case "none", "one", "all":
		default:
			return fmt.Errorf("config: producer %s: kafka.acks %q is invalid; expected none|one|all", p.Name, p.Kafka.Acks)
		}
		switch p.Kafka.SASLMechanism {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("config: producer %s: kafka.sasl_mechanism %q is unsupported", p.Name, p.Kafka.SASLMechanism)
		}
	case "redis":
		if p.Redis.Addr == "" {
			return fmt.Errorf("config: producer %s: redis.addr is required", p.Name)
		}
	}
	return nil
}

// hasNamedGroup reports whether re declares at least one named capture group.
func hasNamedGroup(re *regexp.Regexp) bool {
	for _, name := range re.SubexpNames() {
		if name != "" {
			return true
		}
	}
	return false
}
