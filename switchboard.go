package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/registry"
	"github.com/aretw0/switchboard/pkg/session"
)

// DefaultLockTTL bounds how long a definition write may hold the write lock.
const DefaultLockTTL = 10 * time.Second

// ErrInvalidRequest is returned when a fire request misses a required field.
var ErrInvalidRequest = errors.New("invalid request")

// Runtime is the entry point used by the HTTP, MCP and CLI surfaces. It fronts the machine
// registry, the definition store and, when live sessions are enabled, the session router.
type Runtime struct {
	registry *registry.Registry
	router   *session.Router
	locker   ports.DistributedLocker
	lockTTL  time.Duration
	logger   *slog.Logger

	// writes serialises definition writes when no distributed locker is configured.
	writes sync.Mutex
}

// Option defines a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithRouter exposes the live sessions of router.
func WithRouter(r *session.Router) Option {
	return func(rt *Runtime) {
		rt.router = r
	}
}

// WithLocker guards definition writes with a distributed lock.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(rt *Runtime) {
		rt.locker = l
		if ttl > 0 {
			rt.lockTTL = ttl
		}
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// New creates a Runtime over reg.
func New(reg *registry.Registry, opts ...Option) *Runtime {
	rt := &Runtime{
		registry: reg,
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Registry returns the machine registry.
func (rt *Runtime) Registry() *registry.Registry {
	return rt.registry
}

// Router returns the session router, or nil when live sessions are disabled.
func (rt *Runtime) Router() *session.Router {
	return rt.router
}

// FireRequest describes a transition fired on a fresh instance placed in CurrentState.
type FireRequest struct {
	MachineID    string         `json:"machineId"`
	Transition   string         `json:"transitionName"`
	CurrentState string         `json:"currentState"`
	Payload      map[string]any `json:"eventPayload,omitempty"`
	InitialData  map[string]any `json:"initialData,omitempty"`
}

// FireResult is the outcome of a successful Fire.
type FireResult struct {
	MachineID           string         `json:"machineId"`
	NewState            string         `json:"newState"`
	PossibleTransitions []string       `json:"possibleTransitions"`
	Message             string         `json:"message"`
	Fields              map[string]any `json:"fields,omitempty"`
}

// Fire creates an instance seeded with InitialData, moves it to CurrentState and fires
// Transition. Refusals are returned as *domain.TransitionRefusedError.
func (rt *Runtime) Fire(ctx context.Context, req FireRequest) (*FireResult, error) {
	if req.Transition == "" || req.CurrentState == "" {
		return nil, fmt.Errorf("%w: transitionName and currentState are required", ErrInvalidRequest)
	}

	inst, err := rt.registry.Get(ctx, req.MachineID, req.InitialData)
	if err != nil {
		return nil, err
	}
	defer inst.Discard()

	if err := inst.SetState(req.CurrentState); err != nil {
		if errors.Is(err, machine.ErrUnknownState) {
			return nil, &domain.TransitionRefusedError{Transition: req.Transition, State: req.CurrentState}
		}
		return nil, err
	}

	if err := inst.Fire(ctx, req.Transition, req.Payload); err != nil {
		return nil, err
	}

	return &FireResult{
		MachineID:           req.MachineID,
		NewState:            inst.State(),
		PossibleTransitions: inst.Transitions(),
		Message:             fmt.Sprintf("Transition %q successful.", req.Transition),
		Fields:              inst.Fields(),
	}, nil
}

// Machines lists the stored definition ids.
func (rt *Runtime) Machines(ctx context.Context) ([]string, error) {
	return rt.registry.List(ctx)
}

// Graph returns the expanded transition graph of id.
func (rt *Runtime) Graph(ctx context.Context, id string) (machine.Graph, error) {
	m, err := rt.registry.Machine(ctx, id)
	if err != nil {
		return machine.Graph{}, err
	}
	return m.Graph(), nil
}

// DOT renders id in Graphviz format.
func (rt *Runtime) DOT(ctx context.Context, id string) (string, error) {
	m, err := rt.registry.Machine(ctx, id)
	if err != nil {
		return "", err
	}
	return m.DOT(), nil
}

// Definition returns the stored document of id unchanged.
func (rt *Runtime) Definition(ctx context.Context, id string) ([]byte, error) {
	return rt.registry.Store().Read(ctx, id)
}

// SaveDefinition compiles data, writes it under the write lock and invalidates the cached
// machine. Invalid documents are never written.
func (rt *Runtime) SaveDefinition(ctx context.Context, id string, data []byte) error {
	if _, err := rt.registry.Compile(id, data); err != nil {
		return err
	}

	unlock, err := rt.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := rt.registry.Store().Write(ctx, id, data); err != nil {
		return fmt.Errorf("save definition %q: %w", id, err)
	}
	rt.registry.Invalidate(id)
	rt.logger.Info("Definition saved", "machine_id", id)
	return nil
}

// DeleteDefinition removes id from the store and the cache.
func (rt *Runtime) DeleteDefinition(ctx context.Context, id string) error {
	unlock, err := rt.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	existed, err := rt.registry.Store().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete definition %q: %w", id, err)
	}
	rt.registry.Invalidate(id)
	if !existed {
		return domain.NotFound(id)
	}
	rt.logger.Info("Definition deleted", "machine_id", id)
	return nil
}

// Reload recompiles id from the store. An empty id reloads every definition.
func (rt *Runtime) Reload(ctx context.Context, id string) error {
	if id == "" {
		rt.registry.InvalidateAll()
		return rt.registry.Preload(ctx)
	}
	rt.registry.Invalidate(id)
	_, err := rt.registry.Load(ctx, id)
	return err
}

// Sessions returns a snapshot of the bound sessions.
func (rt *Runtime) Sessions() []domain.SessionInfo {
	if rt.router == nil {
		return []domain.SessionInfo{}
	}
	return rt.router.Sessions()
}

func (rt *Runtime) lock(ctx context.Context, id string) (func(), error) {
	if rt.locker == nil {
		rt.writes.Lock()
		return rt.writes.Unlock, nil
	}
	release, err := rt.locker.Lock(ctx, "definition:"+id, rt.lockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Warn("Failed to release definition lock", "machine_id", id, "err", err)
		}
	}, nil
}
