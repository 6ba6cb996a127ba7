package producer

import (
	"sync"
	"time"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// DriverFactory builds a driver for one validated producer configuration.
type DriverFactory func(cfg config.ProducerConfig, logger logging.Logger) (Driver, error)

type registryKey struct {
	Type string
	Name string
}

// Registry hands out one started Executor per (type, name) key.  The topic
// allowlist is enforced on every acquisition, not just the creating one, so a
// disallowed topic is refused each time an agent resolves the producer for
// dispatch, even when the instance already exists.
type Registry struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *prometheus.PipelineMetrics

	mu        sync.RWMutex
	factories map[string]DriverFactory
	instances map[registryKey]*Executor
}

// NewRegistry builds an empty registry over the loaded configuration.
func NewRegistry(cfg *config.Config, logger logging.Logger, metrics *prometheus.PipelineMetrics) *Registry {
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		factories: make(map[string]DriverFactory),
		instances: make(map[registryKey]*Executor),
	}
}

// RegisterType installs the factory for a producer type name.
func (r *Registry) RegisterType(typ string, factory DriverFactory) {
	r.mu.Lock()
	r.factories[typ] = factory
	r.mu.Unlock()
}

// Get returns the shared executor for (typ, name) after checking that the
// producer's allowlist admits topic.  The instance is created and started on
// first use.
func (r *Registry) Get(typ, name, topic string) (*Executor, error) {
	prodCfg, ok := r.cfg.FindProducer(typ, name)
	if !ok {
		return nil, errors.ConfigNotFound("producer not configured").WithDetail(typ + "/" + name)
	}
	if topic != "" && !prodCfg.AllowsTopic(topic) {
		return nil, errors.TopicNotAllowed("topic outside producer allowlist").WithDetail(typ + "/" + name + " topic=" + topic)
	}

	key := registryKey{Type: typ, Name: name}

	r.mu.RLock()
	if inst, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	factory, ok := r.factories[typ]
	if !ok {
		return nil, errors.UnknownType("no registered producer type").WithDetail(typ)
	}
	if err := prodCfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "producer configuration rejected")
	}

	driver, err := factory(*prodCfg, r.logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "producer driver construction failed")
	}

	executor := NewExecutor(*prodCfg, driver, r.logger, r.metrics)
	executor.Start()
	r.instances[key] = executor

	r.logger.Info("producer instance created",
		logging.String("type", typ),
		logging.String("name", name),
	)
	return executor, nil
}

// StopAll shuts down every created executor, splitting timeout across them.
func (r *Registry) StopAll(timeout time.Duration) {
	r.mu.Lock()
	instances := make([]*Executor, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.instances = make(map[registryKey]*Executor)
	r.mu.Unlock()

	if len(instances) == 0 {
		return
	}
	per := timeout / time.Duration(len(instances))
	for _, inst := range instances {
		inst.Stop(per)
	}
}
