package agent

import (
	"sync"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Registry maps agent type names to transform factories.  The composition
// root registers the built-in types and any site-specific ones, then creates
// one Agent per configured block:
//
//	reg := agent.NewRegistry()
//	agent.RegisterBuiltins(reg)
//	a, err := reg.Create(agentCfg, deps)
type Registry struct {
	mu        sync.RWMutex
	factories map[string]TransformFactory
}

// NewRegistry builds an empty agent type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]TransformFactory)}
}

// RegisterType installs the factory for an agent type name.
func (r *Registry) RegisterType(typ string, factory TransformFactory) {
	r.mu.Lock()
	r.factories[typ] = factory
	r.mu.Unlock()
}

// RegisterBuiltins installs the built-in agent types.
func RegisterBuiltins(r *Registry) {
	r.RegisterType("passthrough", NewPassthroughTransform)
	r.RegisterType("jsonfield", NewJSONFieldTransform)
}

// Create validates cfg, resolves its type to a transform, and constructs the
// agent.  A failing block aborts only this agent; the caller continues with
// the others.
func (r *Registry) Create(cfg config.AgentConfig, deps Dependencies) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "agent configuration rejected")
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.UnknownType("no registered agent type").WithDetail(cfg.Type)
	}

	transform, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, transform, deps)
}
