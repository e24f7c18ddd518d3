// Package registry caches compiled machines by identifier and keeps them in step with
// the definition store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/switchboard/internal/compiler"
	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/ports"
)

// Registry is safe for concurrent use. Reads take a shared lock; loads compile outside any
// lock and replace the cache entry atomically.
type Registry struct {
	store    ports.DefinitionStore
	parser   *compiler.Parser
	compiler *machine.Compiler
	logger   *slog.Logger
	hooks    domain.LifecycleHooks

	mu    sync.RWMutex
	cache map[string]*machine.Machine
}

// Option configures the Registry.
type Option func(*Registry)

// WithCompiler sets the machine compiler.
func WithCompiler(c *machine.Compiler) Option {
	return func(r *Registry) {
		r.compiler = c
	}
}

// WithParser sets the definition parser.
func WithParser(p *compiler.Parser) Option {
	return func(r *Registry) {
		r.parser = p
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithHooks registers observability hooks for definition loads.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Registry) {
		r.hooks = hooks
	}
}

// New creates a Registry reading from store.
func New(store ports.DefinitionStore, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: logging.NewNop(),
		cache:  make(map[string]*machine.Machine),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parser == nil {
		r.parser = compiler.NewParser(compiler.WithLogger(r.logger))
	}
	if r.compiler == nil {
		r.compiler = machine.NewCompiler(machine.WithLogger(r.logger))
	}
	return r
}

// Store returns the backing definition store.
func (r *Registry) Store() ports.DefinitionStore {
	return r.store
}

// Machine returns the compiled machine for id, loading it on a cache miss.
func (r *Registry) Machine(ctx context.Context, id string) (*machine.Machine, error) {
	r.mu.RLock()
	m, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}
	return r.Load(ctx, id)
}

// Get creates a new instance of machine id seeded with seed.
func (r *Registry) Get(ctx context.Context, id string, seed map[string]any, opts ...machine.InstanceOption) (*machine.Instance, error) {
	m, err := r.Machine(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.New(seed, opts...), nil
}

// Load reads, parses and compiles id and replaces its cache entry. Concurrent loads of the
// same id are not coalesced; the last one to finish wins.
func (r *Registry) Load(ctx context.Context, id string) (*machine.Machine, error) {
	m, err := r.compile(ctx, id)
	if err != nil {
		r.emit(ctx, id, domain.OutcomeFailed)
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = m
	r.mu.Unlock()

	r.emit(ctx, id, domain.OutcomeOK)
	r.logger.Debug("Loaded definition", "machine_id", id)
	return m, nil
}

// Check parses and compiles id without touching the cache.
func (r *Registry) Check(ctx context.Context, id string) (*machine.Machine, error) {
	return r.compile(ctx, id)
}

func (r *Registry) compile(ctx context.Context, id string) (*machine.Machine, error) {
	data, err := r.store.Read(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrDefinitionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read definition %q: %w", id, err)
	}
	return r.Compile(id, data)
}

// Compile parses and compiles raw definition bytes as id without touching the store or the
// cache.
func (r *Registry) Compile(id string, data []byte) (*machine.Machine, error) {
	def, err := r.parser.Parse(id, data)
	if err != nil {
		return nil, err
	}
	return r.compiler.Compile(def)
}

// Invalidate drops id from the cache. The next lookup reloads it.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
	r.logger.Debug("Invalidated definition", "machine_id", id)
}

// InvalidateAll empties the cache.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*machine.Machine)
	r.mu.Unlock()
	r.logger.Debug("Invalidated every definition")
}

// List returns the identifiers known to the store.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	return r.store.List(ctx)
}

// Cached returns the identifiers currently compiled, sorted.
func (r *Registry) Cached() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.cache))
}

// Preload compiles every stored definition and reports all failures at once.
func (r *Registry) Preload(ctx context.Context) error {
	ids, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if _, err := r.Load(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch invalidates cache entries as the store reports changes. It blocks until ctx is done
// or the change channel closes.
func (r *Registry) Watch(ctx context.Context, w ports.Watchable) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch definitions: %w", err)
	}
	r.logger.Info("Watching definitions for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			if id == "" {
				r.InvalidateAll()
				continue
			}
			r.Invalidate(id)
			r.logger.Info("Definition changed", "machine_id", id)
		}
	}
}

func (r *Registry) emit(ctx context.Context, id string, outcome domain.Outcome) {
	if r.hooks.OnLoad == nil {
		return
	}
	r.hooks.OnLoad(ctx, &domain.LoadEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventLoad,
			MachineID: id,
		},
		Outcome: outcome,
	})
}
