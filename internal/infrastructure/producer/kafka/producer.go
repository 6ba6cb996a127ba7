// Package kafka implements the pipeline's producer driver contract on top of
// Apache Kafka via kafka-go.  One driver owns one kafka.Writer configured for
// acks, batching, compression, and optional TLS/SASL transport security.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

const dialTimeout = 10 * time.Second

// writerInterface abstracts kafka.Writer for testing.
type writerInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer is the kafka-go backed driver.
type Producer struct {
	cfg    config.ProducerConfig
	logger logging.Logger

	mu     sync.RWMutex
	writer writerInterface
	dialer *kafkago.Dialer
}

// NewDriver constructs a disconnected driver; the connection orchestrator
// drives Connect.
func NewDriver(cfg config.ProducerConfig, logger logging.Logger) (producer.Driver, error) {
	return &Producer{
		cfg:    cfg,
		logger: logger.Named("producer").Named(cfg.Type + "-" + cfg.Name),
	}, nil
}

// Connect builds the transport and writer, then dials one broker to verify
// the cluster is reachable — kafka.Writer itself connects lazily, which would
// otherwise defeat the orchestrator's reconnect accounting.
func (p *Producer) Connect() error {
	kcfg := p.cfg.Kafka

	tlsConfig, err := buildTLSConfig(kcfg)
	if err != nil {
		return err
	}
	mechanism, err := buildSASLMechanism(kcfg)
	if err != nil {
		return err
	}

	transport := &kafkago.Transport{
		DialTimeout: dialTimeout,
		TLS:         tlsConfig,
		SASL:        mechanism,
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(kcfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		BatchSize:    kcfg.BatchSize,
		BatchTimeout: kcfg.BatchTimeout,
		WriteTimeout: kcfg.WriteTimeout,
		RequiredAcks: requiredAcks(kcfg.Acks),
		Compression:  compressionCodec(kcfg.Compression),
		Transport:    transport,
	}

	dialer := &kafkago.Dialer{
		Timeout:       dialTimeout,
		TLS:           tlsConfig,
		SASLMechanism: mechanism,
	}
	if err := p.probe(dialer); err != nil {
		_ = writer.Close()
		return err
	}

	p.mu.Lock()
	if p.writer != nil {
		_ = p.writer.Close()
	}
	p.writer = writer
	p.dialer = dialer
	p.mu.Unlock()

	p.logger.Info("connected",
		logging.Any("brokers", kcfg.Brokers),
		logging.String("acks", kcfg.Acks),
	)
	return nil
}

// probe dials the first reachable broker.
func (p *Producer) probe(dialer *kafkago.Dialer) error {
	var lastErr error
	for _, broker := range p.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
	}
	return errors.Wrap(lastErr, errors.CodeProducerConnection, "no broker reachable").WithDetail(p.cfg.Name)
}

// IsConnected probes live connectivity against the brokers.
func (p *Producer) IsConnected() bool {
	p.mu.RLock()
	writer, dialer := p.writer, p.dialer
	p.mu.RUnlock()
	if writer == nil || dialer == nil {
		return false
	}
	return p.probe(dialer) == nil
}

// Close releases the writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

// Send publishes one message to its topic.  The record key is the topic plus
// the error flag so that alert-class messages hash to stable partitions.
func (p *Producer) Send(ctx context.Context, msg common.Message) error {
	p.mu.RLock()
	writer := p.writer
	p.mu.RUnlock()
	if writer == nil {
		return errors.New(errors.CodeProducerConnection, "not connected").WithDetail(p.cfg.Name)
	}

	value, err := msg.MarshalPayload()
	if err != nil {
		return errors.Wrap(err, errors.CodeProducerSend, "payload serialisation failed")
	}

	record := kafkago.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Topic + "/" + strconv.FormatBool(msg.IsError)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "is_error", Value: []byte(strconv.FormatBool(msg.IsError))},
			{Key: "is_warning", Value: []byte(strconv.FormatBool(msg.IsWarning))},
		},
	}
	if err := writer.WriteMessages(ctx, record); err != nil {
		return errors.Wrap(err, errors.CodeProducerSend, "publish failed").WithDetail(msg.Topic)
	}
	return nil
}

// buildTLSConfig returns nil when TLS is disabled.
func buildTLSConfig(kcfg config.KafkaProducerConfig) (*tls.Config, error) {
	if !kcfg.TLSEnabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if kcfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(kcfg.TLSCAFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeConfigInvalid, "cannot read TLS CA file").WithDetail(kcfg.TLSCAFile)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.ConfigInvalid("TLS CA file contains no usable certificates").WithDetail(kcfg.TLSCAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// buildSASLMechanism returns nil when SASL is disabled.
func buildSASLMechanism(kcfg config.KafkaProducerConfig) (sasl.Mechanism, error) {
	switch kcfg.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: kcfg.SASLUsername, Password: kcfg.SASLPassword}, nil
	case "SCRAM-SHA-256":
		m, err := scram.Mechanism(scram.SHA256, kcfg.SASLUsername, kcfg.SASLPassword)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeConfigInvalid, "SCRAM-SHA-256 mechanism")
		}
		return m, nil
	case "SCRAM-SHA-512":
		m, err := scram.Mechanism(scram.SHA512, kcfg.SASLUsername, kcfg.SASLPassword)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeConfigInvalid, "SCRAM-SHA-512 mechanism")
		}
		return m, nil
	default:
		return nil, errors.ConfigInvalid("unsupported SASL mechanism").WithDetail(kcfg.SASLMechanism)
	}
}

func requiredAcks(acks string) kafkago.RequiredAcks {
	switch acks {
	case "none":
		return kafkago.RequireNone
	case "all":
		return kafkago.RequireAll
	default:
		return kafkago.RequireOne
	}
}

func compressionCodec(codec string) kafkago.Compression {
	switch codec {
	case "gzip":
		return kafkago.Gzip
	case "snappy":
		return kafkago.Snappy
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Compression(0)
	}
}
