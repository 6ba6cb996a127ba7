package prometheus

import (
	"time"
)

// Default buckets for pipeline timings.
var (
	DefaultQueryDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30}
	DefaultSendDurationBuckets  = []float64{.001, .005, .01, .05, .1, .5, 1, 5}
)

// PipelineMetrics holds every metric the pipeline records.  A nil
// *PipelineMetrics is valid and records nothing, so tests can pass nil instead
// of wiring a collector.
type PipelineMetrics struct {
	// Agent layer
	LinesRead     CounterVec // agent
	RegexMatches  CounterVec // agent, connection
	ActiveRecords GaugeVec   // agent
	Evictions     CounterVec // agent
	Rotations     CounterVec // agent, file

	// Database layer
	QueriesTotal   CounterVec   // database, status
	QueryRetries   CounterVec   // database
	QueryDuration  HistogramVec // database
	DBQueueDepth   GaugeVec     // database

	// Producer layer
	MessagesTotal      CounterVec   // producer, topic, status
	MessageRetries     CounterVec   // producer
	SendDuration       HistogramVec // producer
	ProducerQueueDepth GaugeVec     // producer

	// Connection layer
	ConnectionUp CounterVec // resource kind+name, state transitions
	Reconnects   CounterVec // resource
}

// NewPipelineMetrics registers all pipeline metrics against the collector.
func NewPipelineMetrics(collector MetricsCollector) *PipelineMetrics {
	m := &PipelineMetrics{}

	m.LinesRead = collector.RegisterCounter("lines_read_total", "Log lines consumed from monitored files", "agent")
	m.RegexMatches = collector.RegisterCounter("regex_matches_total", "Lines matched by a data connection pattern", "agent", "connection")
	m.ActiveRecords = collector.RegisterGauge("working_records", "Working records currently held by an agent", "agent")
	m.Evictions = collector.RegisterCounter("record_evictions_total", "Working records removed by TTL expiry", "agent")
	m.Rotations = collector.RegisterCounter("file_rotations_total", "Rotations detected on monitored files", "agent", "file")

	m.QueriesTotal = collector.RegisterCounter("db_queries_total", "Enrichment queries completed", "database", "status")
	m.QueryRetries = collector.RegisterCounter("db_query_retries_total", "Enrichment query retry attempts", "database")
	m.QueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Enrichment query duration", DefaultQueryDurationBuckets, "database")
	m.DBQueueDepth = collector.RegisterGauge("db_queue_depth", "Queries waiting in an executor queue", "database")

	m.MessagesTotal = collector.RegisterCounter("producer_messages_total", "Messages handed to a producer driver", "producer", "topic", "status")
	m.MessageRetries = collector.RegisterCounter("producer_message_retries_total", "Message send retry attempts", "producer")
	m.SendDuration = collector.RegisterHistogram("producer_send_duration_seconds", "Message send duration", DefaultSendDurationBuckets, "producer")
	m.ProducerQueueDepth = collector.RegisterGauge("producer_queue_depth", "Messages waiting in an executor queue", "producer")

	m.ConnectionUp = collector.RegisterCounter("connection_transitions_total", "Connection state transitions", "resource", "state")
	m.Reconnects = collector.RegisterCounter("reconnect_attempts_total", "Reconnect attempts performed by orchestrators", "resource")

	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Nil-safe record helpers
// ─────────────────────────────────────────────────────────────────────────────

// RecordLines counts lines consumed by an agent.
func (m *PipelineMetrics) RecordLines(agent string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinesRead.WithLabelValues(agent).Add(float64(n))
}

// RecordMatch counts one regex match for a data connection.
func (m *PipelineMetrics) RecordMatch(agent, connection string) {
	if m == nil {
		return
	}
	m.RegexMatches.WithLabelValues(agent, connection).Inc()
}

// SetActiveRecords publishes the current working-set size of an agent.
func (m *PipelineMetrics) SetActiveRecords(agent string, n int) {
	if m == nil {
		return
	}
	m.ActiveRecords.WithLabelValues(agent).Set(float64(n))
}

// RecordEvictions counts TTL evictions.
func (m *PipelineMetrics) RecordEvictions(agent string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Evictions.WithLabelValues(agent).Add(float64(n))
}

// RecordRotation counts one detected file rotation.
func (m *PipelineMetrics) RecordRotation(agent, file string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(agent, file).Inc()
}

// RecordQuery counts one completed query and its duration.
func (m *PipelineMetrics) RecordQuery(database string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(database, status).Inc()
	m.QueryDuration.WithLabelValues(database).Observe(d.Seconds())
}

// RecordQueryRetry counts one query retry attempt.
func (m *PipelineMetrics) RecordQueryRetry(database string) {
	if m == nil {
		return
	}
	m.QueryRetries.WithLabelValues(database).Inc()
}

// SetDBQueueDepth publishes the executor queue depth of a database.
func (m *PipelineMetrics) SetDBQueueDepth(database string, n int) {
	if m == nil {
		return
	}
	m.DBQueueDepth.WithLabelValues(database).Set(float64(n))
}

// RecordSend counts one send attempt outcome and its duration.
func (m *PipelineMetrics) RecordSend(producer, topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MessagesTotal.WithLabelValues(producer, topic, status).Inc()
	m.SendDuration.WithLabelValues(producer).Observe(d.Seconds())
}

// RecordSendRetry counts one message retry attempt.
func (m *PipelineMetrics) RecordSendRetry(producer string) {
	if m == nil {
		return
	}
	m.MessageRetries.WithLabelValues(producer).Inc()
}

// SetProducerQueueDepth publishes the executor queue depth of a producer.
func (m *PipelineMetrics) SetProducerQueueDepth(producer string, n int) {
	if m == nil {
		return
	}
	m.ProducerQueueDepth.WithLabelValues(producer).Set(float64(n))
}

// RecordConnectionState counts one up/down transition of a guarded resource.
func (m *PipelineMetrics) RecordConnectionState(resource string, up bool) {
	if m == nil {
		return
	}
	state := "up"
	if !up {
		state = "down"
	}
	m.ConnectionUp.WithLabelValues(resource, state).Inc()
}

// RecordReconnect counts one reconnect attempt of a guarded resource.
func (m *PipelineMetrics) RecordReconnect(resource string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(resource).Inc()
}
