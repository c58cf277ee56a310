package agent

import (
	"context"
	"sync"
)

// Pool lends agent instances under a scoped acquisition with guaranteed
// release. When pooling is disabled the executor constructs a fresh
// instance per task instead of going through the pool.
type Pool struct {
	mu       sync.Mutex
	registry *Registry
	idle     map[string][]Agent
	maxIdle  int
}

// NewPool creates a pool backed by the given registry.
func NewPool(registry *Registry, maxIdle int) *Pool {
	if maxIdle <= 0 {
		maxIdle = 3
	}
	return &Pool{
		registry: registry,
		idle:     make(map[string][]Agent),
		maxIdle:  maxIdle,
	}
}

// Acquire returns an instance of the named agent, reusing an idle one when
// available. The caller must pass the instance back through Release.
func (p *Pool) Acquire(ctx context.Context, name string) (Agent, error) {
	p.mu.Lock()
	if idle := p.idle[name]; len(idle) > 0 {
		inst := idle[len(idle)-1]
		p.idle[name] = idle[:len(idle)-1]
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	factory, err := p.registry.Factory(name)
	if err != nil {
		return nil, err
	}
	inst := factory()
	if err := inst.Initialize(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// Release returns an instance to the pool. Instances beyond maxIdle per
// name are shut down instead of retained.
func (p *Pool) Release(ctx context.Context, inst Agent) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	name := inst.Name()
	if len(p.idle[name]) < p.maxIdle {
		p.idle[name] = append(p.idle[name], inst)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = inst.Shutdown(ctx)
}

// With runs fn with a pooled instance, releasing it afterwards.
func (p *Pool) With(ctx context.Context, name string, fn func(Agent) error) error {
	inst, err := p.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer p.Release(ctx, inst)
	return fn(inst)
}

// Shutdown drains all idle instances.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string][]Agent)
	p.mu.Unlock()

	for _, instances := range idle {
		for _, inst := range instances {
			_ = inst.Shutdown(ctx)
		}
	}
}
