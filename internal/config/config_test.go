package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newValidAgent returns a minimal valid agent config anchored to a real file.
func newValidAgent(t *testing.T) AgentConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	return AgentConfig{
		Type:                 "passthrough",
		Name:                 "spring-prod",
		BufferRows:           500,
		FetchLogsInterval:    120 * time.Second,
		ExecuteQueryInterval: 600 * time.Second,
		PathFiles: []PathFileConfig{
			{Name: "app_log", Path: path},
		},
		ProducerConnections: []ProducerConnectionConfig{
			{
				Type:  "kafka",
				Name:  "events",
				Topic: "errors",
				DataConnections: []DataConnectionConfig{
					{
						Name:    "error_pattern",
						IsError: true,
						SourceRef: &RegexSourceConfig{
							PathFileName: "app_log",
							Pattern:      `^ERR (?P<code>\d+) (?P<msg>.+)$`,
						},
					},
				},
			},
		},
	}
}

func TestAgentValidateOK(t *testing.T) {
	a := newValidAgent(t)
	assert.NoError(t, a.Validate())
}

func TestAgentValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AgentConfig)
	}{
		{"missing type", func(a *AgentConfig) { a.Type = "" }},
		{"missing name", func(a *AgentConfig) { a.Name = "" }},
		{"zero buffer rows", func(a *AgentConfig) { a.BufferRows = 0 }},
		{"negative buffer rows", func(a *AgentConfig) { a.BufferRows = -1 }},
		{"zero fetch interval", func(a *AgentConfig) { a.FetchLogsInterval = 0 }},
		{"zero query interval", func(a *AgentConfig) { a.ExecuteQueryInterval = 0 }},
		{"no producer connections", func(a *AgentConfig) { a.ProducerConnections = nil }},
		{"missing path", func(a *AgentConfig) { a.PathFiles[0].Path = "/nonexistent/really/app.log" }},
		{"negative cursor", func(a *AgentConfig) { a.PathFiles[0].Cursor = -5 }},
		{"unknown path file reference", func(a *AgentConfig) {
			a.ProducerConnections[0].DataConnections[0].SourceRef.PathFileName = "other_log"
		}},
		{"invalid regex", func(a *AgentConfig) {
			a.ProducerConnections[0].DataConnections[0].SourceRef.Pattern = `([unclosed`
		}},
		{"no named groups", func(a *AgentConfig) {
			a.ProducerConnections[0].DataConnections[0].SourceRef.Pattern = `^ERR \d+$`
		}},
		{"negative ttl", func(a *AgentConfig) {
			a.ProducerConnections[0].DataConnections[0].TTLMinutes = -1
		}},
		{"destination without query", func(a *AgentConfig) {
			a.ProducerConnections[0].DataConnections[0].DestinationRef = &QueryRefConfig{
				DatabaseType: "postgres", DatabaseName: "billing",
			}
		}},
		{"missing topic", func(a *AgentConfig) { a.ProducerConnections[0].Topic = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newValidAgent(t)
			tt.mutate(&a)
			assert.Error(t, a.Validate())
		})
	}
}

func newValidDatabase() DatabaseConfig {
	return DatabaseConfig{
		Type:       "postgres",
		Name:       "billing",
		Username:   "app",
		Password:   "secret",
		Primary:    EndpointConfig{Host: "db1", Port: 5432, ServiceName: "billing"},
		MaxRetries: 5,
		MaxWorkers: 10,
		QueueSize:  256,
	}
}

func TestDatabaseValidate(t *testing.T) {
	d := newValidDatabase()
	assert.NoError(t, d.Validate())

	tests := []struct {
		name   string
		mutate func(*DatabaseConfig)
	}{
		{"missing username", func(d *DatabaseConfig) { d.Username = "" }},
		{"port zero", func(d *DatabaseConfig) { d.Primary.Port = 0 }},
		{"port too large", func(d *DatabaseConfig) { d.Primary.Port = 70000 }},
		{"replica port invalid", func(d *DatabaseConfig) {
			d.Replica = &EndpointConfig{Host: "db2", Port: -1}
		}},
		{"max retries zero", func(d *DatabaseConfig) { d.MaxRetries = 0 }},
		{"max workers zero", func(d *DatabaseConfig) { d.MaxWorkers = 0 }},
		{"queue size zero", func(d *DatabaseConfig) { d.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newValidDatabase()
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestProducerValidate(t *testing.T) {
	p := ProducerConfig{
		Type:       "kafka",
		Name:       "events",
		Topics:     []string{"errors", "warnings"},
		MaxRetries: 5,
		QueueSize:  256,
		Kafka:      KafkaProducerConfig{Brokers: []string{"localhost:9092"}, Acks: "all"},
	}
	assert.NoError(t, p.Validate())

	noBrokers := p
	noBrokers.Kafka.Brokers = nil
	assert.Error(t, noBrokers.Validate())

	badAcks := p
	badAcks.Kafka.Acks = "most"
	assert.Error(t, badAcks.Validate())

	badSASL := p
	badSASL.Kafka.SASLMechanism = "GSSAPI"
	assert.Error(t, badSASL.Validate())

	redis := ProducerConfig{Type: "redis", Name: "cache-bus", MaxRetries: 3, QueueSize: 16}
	assert.Error(t, redis.Validate(), "redis producer requires an address")
	redis.Redis.Addr = "localhost:6379"
	assert.NoError(t, redis.Validate())
}

func TestAllowsTopic(t *testing.T) {
	p := ProducerConfig{Topics: []string{"errors"}}
	assert.True(t, p.AllowsTopic("errors"))
	assert.False(t, p.AllowsTopic("audit"))

	open := ProducerConfig{}
	assert.True(t, open.AllowsTopic("anything"))
}

func TestFindDatabaseAndProducer(t *testing.T) {
	cfg := &Config{
		Databases: []DatabaseConfig{newValidDatabase()},
		Producers: []ProducerConfig{{Type: "kafka", Name: "events"}},
	}

	d, ok := cfg.FindDatabase("postgres", "billing")
	require.True(t, ok)
	assert.Equal(t, "billing", d.Name)

	_, ok = cfg.FindDatabase("postgres", "unknown")
	assert.False(t, ok)

	p, ok := cfg.FindProducer("kafka", "events")
	require.True(t, ok)
	assert.Equal(t, "events", p.Name)

	_, ok = cfg.FindProducer("redis", "events")
	assert.False(t, ok)
}
