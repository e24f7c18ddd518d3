package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/template"
)

// DefaultTimeout applies to external calls whose template declares none.
const DefaultTimeout = 5 * time.Second

// Target is the view of a machine instance the executor borrows for one hook invocation.
type Target interface {
	MachineID() string
	// SessionID returns the bound session identifier, or "" when the instance has none.
	SessionID() string
	// Snapshot returns the instance fields as seen by templates.
	Snapshot() map[string]any
	SetField(name string, value any)
	ExternalAPI(name string) (domain.HTTPTemplate, bool)
	ControlAction(name string) (domain.ControlTemplate, bool)
	// Defer schedules a follow-up transition to run after the current one settles.
	Defer(f domain.FollowUp)
}

// Executor runs action lists against a Target.
type Executor struct {
	http           ports.HTTPDoer
	control        ports.CallControl
	resolver       *template.Resolver
	logger         *slog.Logger
	hooks          domain.LifecycleHooks
	defaultTimeout time.Duration
}

// Option configures the Executor.
type Option func(*Executor)

// WithHTTP sets the HTTP collaborator used by externalApi actions.
func WithHTTP(doer ports.HTTPDoer) Option {
	return func(e *Executor) {
		e.http = doer
	}
}

// WithCallControl sets the call-control collaborator used by ari actions.
func WithCallControl(cc ports.CallControl) Option {
	return func(e *Executor) {
		e.control = cc
	}
}

// WithResolver replaces the template resolver.
func WithResolver(r *template.Resolver) Option {
	return func(e *Executor) {
		e.resolver = r
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewExecutor creates an Executor. Without WithHTTP or WithCallControl the corresponding
// actions fail as unavailable dependencies.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:         logging.NewNop(),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = template.New(template.WithLogger(e.logger))
	}
	return e
}

// Resolver returns the template resolver shared with scripts.
func (e *Executor) Resolver() *template.Resolver {
	return e.resolver
}

// ScopeFor builds the template scope of one hook invocation.
func ScopeFor(target Target, lc domain.Lifecycle, payload map[string]any) template.Scope {
	return template.Scope{
		Instance:  target.Snapshot(),
		Lifecycle: lc.Map(),
		Payload:   payload,
	}
}

// Run executes actions in order and stops at the first failure.
func (e *Executor) Run(ctx context.Context, actions []domain.Action, target Target, lc domain.Lifecycle, payload map[string]any) error {
	for i := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runOne(ctx, actions[i], target, lc, payload); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, action domain.Action, target Target, lc domain.Lifecycle, payload map[string]any) error {
	start := time.Now()
	// Each action sees the fields stored by the previous one.
	scope := ScopeFor(target, lc, payload)

	var err error
	switch action.Type {
	case domain.ActionExternalAPI:
		err = e.runExternal(ctx, action, target, scope)
	case domain.ActionControl:
		err = e.runControl(ctx, action, target, scope)
	case domain.ActionSet:
		err = e.runSet(action, target, scope)
	case domain.ActionLog:
		e.runLog(ctx, action, target, scope)
	default:
		err = &domain.ActionError{
			Type: action.Type,
			Name: action.Name(),
			Kind: domain.FailureConfig,
			Err:  fmt.Errorf("unknown action type %q", action.Type),
		}
	}

	e.emit(ctx, target, action, start, err)
	return err
}

func (e *Executor) runSet(action domain.Action, target Target, scope template.Scope) error {
	if action.Field == "" {
		return configError(action, fmt.Errorf("set action requires a field"))
	}
	if action.Field == "state" || action.Field == "id" {
		return configError(action, fmt.Errorf("field %q is reserved", action.Field))
	}
	value, err := e.resolver.ResolveValue(action.Value, scope)
	if err != nil {
		return configError(action, err)
	}
	target.SetField(action.Field, value)
	return nil
}

func (e *Executor) runLog(ctx context.Context, action domain.Action, target Target, scope template.Scope) {
	level, err := logging.ParseLevel(action.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, e.resolver.Resolve(action.Message, scope),
		"machine_id", target.MachineID(),
		"session_id", target.SessionID(),
		"transition", scope.Lifecycle["transition"],
	)
}

func (e *Executor) emit(ctx context.Context, target Target, action domain.Action, start time.Time, err error) {
	if e.hooks.OnAction == nil {
		return
	}
	outcome := domain.OutcomeOK
	if err != nil {
		outcome = domain.OutcomeFailed
	}
	e.hooks.OnAction(ctx, &domain.ActionEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventAction,
			MachineID: target.MachineID(),
		},
		ActionType: action.Type,
		Name:       action.Name(),
		Outcome:    outcome,
		Duration:   time.Since(start),
	})
}

func configError(action domain.Action, err error) error {
	return &domain.ActionError{Type: action.Type, Name: action.Name(), Kind: domain.FailureConfig, Err: err}
}

func externalError(action domain.Action, err error) error {
	return &domain.ActionError{Type: action.Type, Name: action.Name(), Kind: domain.FailureExternal, Err: err}
}
