// Package redis implements the pipeline's producer driver contract on top of
// Redis pub/sub: each message is published to the channel named after its
// topic.  Subscribers receive the same wire envelope the kafka driver emits.
package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

const pingTimeout = 5 * time.Second

// Producer is the go-redis backed driver.
type Producer struct {
	cfg    config.ProducerConfig
	logger logging.Logger

	mu     sync.RWMutex
	client *goredis.Client
}

// NewDriver constructs a disconnected driver; the connection orchestrator
// drives Connect.
func NewDriver(cfg config.ProducerConfig, logger logging.Logger) (producer.Driver, error) {
	return &Producer{
		cfg:    cfg,
		logger: logger.Named("producer").Named(cfg.Type + "-" + cfg.Name),
	}, nil
}

// Connect creates the client and verifies it with a ping.
func (p *Producer) Connect() error {
	client := goredis.NewClient(&goredis.Options{
		Addr:     p.cfg.Redis.Addr,
		Password: p.cfg.Redis.Password,
		DB:       p.cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.Wrap(err, errors.CodeProducerConnection, "redis ping failed").WithDetail(p.cfg.Redis.Addr)
	}

	p.mu.Lock()
	if p.client != nil {
		_ = p.client.Close()
	}
	p.client = client
	p.mu.Unlock()

	p.logger.Info("connected", logging.String("addr", p.cfg.Redis.Addr))
	return nil
}

// IsConnected probes liveness with a short ping.
func (p *Producer) IsConnected() bool {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

// Close releases the client.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// Send publishes the message envelope to the channel named after its topic.
func (p *Producer) Send(ctx context.Context, msg common.Message) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return errors.New(errors.CodeProducerConnection, "not connected").WithDetail(p.cfg.Name)
	}

	value, err := msg.MarshalPayload()
	if err != nil {
		return errors.Wrap(err, errors.CodeProducerSend, "payload serialisation failed")
	}
	if err := client.Publish(ctx, msg.Topic, value).Err(); err != nil {
		return errors.Wrap(err, errors.CodeProducerSend, "publish failed").WithDetail(msg.Topic)
	}
	return nil
}
