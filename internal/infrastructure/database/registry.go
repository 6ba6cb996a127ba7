package database

import (
	"sync"
	"time"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// DriverFactory builds a driver for one validated database configuration.
type DriverFactory func(cfg config.DatabaseConfig, logger logging.Logger) (Driver, error)

// registryKey identifies one shared database instance.
type registryKey struct {
	Type string
	Name string
}

// Registry hands out one started Executor per (type, name) key.  Instances
// are created lazily under a lock on first request and shared by every agent
// afterwards; the fast path is a read-locked map hit.
type Registry struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *prometheus.PipelineMetrics

	mu        sync.RWMutex
	factories map[string]DriverFactory
	instances map[registryKey]*Executor
}

// NewRegistry builds an empty registry over the loaded configuration.
// Driver types are registered explicitly by the composition root:
//
//	reg := database.NewRegistry(cfg, logger, metrics)
//	reg.RegisterType("postgres", postgres.NewDriver)
func NewRegistry(cfg *config.Config, logger logging.Logger, metrics *prometheus.PipelineMetrics) *Registry {
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		factories: make(map[string]DriverFactory),
		instances: make(map[registryKey]*Executor),
	}
}

// RegisterType installs the factory for a database type name.
func (r *Registry) RegisterType(typ string, factory DriverFactory) {
	r.mu.Lock()
	r.factories[typ] = factory
	r.mu.Unlock()
}

// Get returns the shared executor for (typ, name), creating and starting it on
// first use.  Creation validates the configuration block, builds the driver,
// and attaches the connection orchestrator via NewExecutor.
func (r *Registry) Get(typ, name string) (*Executor, error) {
	key := registryKey{Type: typ, Name: name}

	r.mu.RLock()
	if inst, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-checked: another goroutine may have created it while we waited.
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	factory, ok := r.factories[typ]
	if !ok {
		return nil, errors.UnknownType("no registered database type").WithDetail(typ)
	}
	dbCfg, ok := r.cfg.FindDatabase(typ, name)
	if !ok {
		return nil, errors.ConfigNotFound("database not configured").WithDetail(typ + "/" + name)
	}
	if err := dbCfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "database configuration rejected")
	}

	driver, err := factory(*dbCfg, r.logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "database driver construction failed")
	}

	executor := NewExecutor(*dbCfg, driver, r.logger, r.metrics)
	executor.Start()
	r.instances[key] = executor

	r.logger.Info("database instance created",
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
