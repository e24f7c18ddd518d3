package machine

import (
	"errors"
	"log/slog"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/aretw0/switchboard/pkg/script"
)

// DefaultMaxFollowUps bounds the follow-ups drained for one external Fire.
const DefaultMaxFollowUps = 64

// ErrScriptsDisabled is returned when a definition carries scripts and scripting is off.
var ErrScriptsDisabled = errors.New("inline scripts are disabled")

// Compiler turns definitions into machines bound to one executor.
type Compiler struct {
	executor       *pipeline.Executor
	logger         *slog.Logger
	hooks          domain.LifecycleHooks
	scripts        bool
	scriptOptions  script.Options
	maxFollowUps   int
	terminalStates []string
}

// Option configures the Compiler.
type Option func(*Compiler)

// WithExecutor sets the action executor shared by every compiled machine.
func WithExecutor(exec *pipeline.Executor) Option {
	return func(c *Compiler) {
		c.executor = exec
	}
}

// WithLogger sets the logger handed to machines and instances.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// WithHooks registers observability hooks for transitions.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Compiler) {
		c.hooks = hooks
	}
}

// WithScripts enables or disables inline scripts and sets their limits.
func WithScripts(enabled bool, opts script.Options) Option {
	return func(c *Compiler) {
		c.scripts = enabled
		c.scriptOptions = opts
	}
}

// WithMaxFollowUps overrides DefaultMaxFollowUps.
func WithMaxFollowUps(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxFollowUps = n
		}
	}
}

// WithTerminalStates sets the terminal states used when a definition declares none.
func WithTerminalStates(states ...string) Option {
	return func(c *Compiler) {
		c.terminalStates = states
	}
}

// NewCompiler creates a Compiler. Scripts are enabled by default.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		logger:       logging.NewNop(),
		scripts:      true,
		maxFollowUps: DefaultMaxFollowUps,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = pipeline.NewExecutor(pipeline.WithLogger(c.logger))
	}
	return c
}

// Compile validates def and binds its hooks. def is not modified.
func (c *Compiler) Compile(def *domain.Definition) (*Machine, error) {
	if def == nil {
		return nil, &domain.DefinitionError{Reason: "nil definition", Err: domain.ErrInvalidDefinition}
	}
	if err := Validate(def); err != nil {
		return nil, err
	}

	m := &Machine{
		id:           def.ID,
		initial:      def.Initial,
		description:  def.Description,
		states:       def.StateNames(),
		externalAPIs: def.ExternalAPIs,
		ariActions:   def.ARIActions,
		stateHooks:   make(map[HookKey]*hook),
		terminal:     make(map[string]bool),
		executor:     c.executor,
		hooks:        c.hooks,
		maxFollowUps: c.maxFollowUps,
		logger:       c.logger.With("machine_id", def.ID),
	}

	terminal := def.TerminalStates
	if len(terminal) == 0 {
		terminal = c.terminalStates
	}
	for _, s := range terminal {
		m.terminal[s] = true
	}

	var errs []error
	compileScript := func(key HookKey, src string) *script.Program {
		if src == "" {
			return nil
		}
		if !c.scripts {
			errs = append(errs, &domain.DefinitionError{ID: def.ID, Field: "scripts." + key.String(), Err: ErrScriptsDisabled})
			return nil
		}
		prog, err := script.Compile(src, c.scriptOptions)
		if err != nil {
			errs = append(errs, &domain.DefinitionError{ID: def.ID, Field: "scripts." + key.String(), Reason: err.Error(), Err: domain.ErrInvalidDefinition})
			return nil
		}
		return prog
	}

	for i, t := range def.Transitions {
		key := HookKey{Phase: PhaseTransition, Name: t.Name}
		m.edges = append(m.edges, &edge{
			index: i,
			spec: domain.TransitionSpec{
				Name: t.Name,
				From: append([]string(nil), t.From...),
				To:   t.To,
			},
			hook: &hook{
				key:     key,
				actions: t.Actions,
				script:  compileScript(key, def.Scripts.Transition[t.Name]),
			},
		})
	}

	for _, state := range m.states {
		spec := def.States[state]
		for _, b := range []struct {
			phase   Phase
			actions []domain.Action
			src     string
		}{
			{PhaseEnter, spec.OnEntry, def.Scripts.Enter[state]},
			{PhaseLeave, spec.OnExit, def.Scripts.Leave[state]},
		} {
			key := HookKey{Phase: b.phase, Name: state}
			h := &hook{key: key, actions: b.actions, script: compileScript(key, b.src)}
			if !h.empty() {
				m.stateHooks[key] = h
			}
		}
	}

	if len(errs) > 0 {
		return nil, &domain.ValidationErrors{ID: def.ID, Errors: errs}
	}

	c.logger.Debug("Compiled machine",
		"machine_id", m.id,
		"states", len(m.states),
		"transitions", len(m.edges),
		"hooks", len(m.stateHooks),
	)
	return m, nil
}
