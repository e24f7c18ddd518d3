package dsl

import (
	"fmt"

	"github.com/aretw0/switchboard/pkg/adapters/memory"
	"github.com/aretw0/switchboard/pkg/domain"
)

// Builder manages the definition construction.
type Builder struct {
	def         domain.Definition
	transitions []*TransitionBuilder
}

// New creates a builder for the machine id.
func New(id string) *Builder {
	return &Builder{def: domain.Definition{ID: id}}
}

// Initial sets the state new instances start in.
func (b *Builder) Initial(state string) *Builder {
	b.def.Initial = state
	return b
}

// Terminal declares states in which sessions are finished.
func (b *Builder) Terminal(states ...string) *Builder {
	b.def.TerminalStates = append(b.def.TerminalStates, states...)
	return b
}

// Describe sets the free-form description.
func (b *Builder) Describe(text string) *Builder {
	b.def.Description = text
	return b
}

// Transition adds a named transition. Each call adds a new one, so the same name may be
// declared again from other states.
func (b *Builder) Transition(name string) *TransitionBuilder {
	tb := &TransitionBuilder{spec: domain.TransitionSpec{Name: name}}
	b.transitions = append(b.transitions, tb)
	return tb
}

// State returns the hook builder for state, creating it on first use.
func (b *Builder) State(name string) *StateBuilder {
	if b.def.States == nil {
		b.def.States = make(map[string]domain.StateSpec)
	}
	if _, ok := b.def.States[name]; !ok {
		b.def.States[name] = domain.StateSpec{}
	}
	return &StateBuilder{name: name, builder: b}
}

// API declares a named external API request template.
func (b *Builder) API(name string, tmpl domain.HTTPTemplate) *Builder {
	if b.def.ExternalAPIs == nil {
		b.def.ExternalAPIs = make(map[string]domain.HTTPTemplate)
	}
	b.def.ExternalAPIs[name] = tmpl
	return b
}

// ARIAction declares a named call-control operation template.
func (b *Builder) ARIAction(name, operation string, params map[string]any) *Builder {
	if b.def.ARIActions == nil {
		b.def.ARIActions = make(map[string]domain.ControlTemplate)
	}
	b.def.ARIActions[name] = domain.ControlTemplate{Operation: operation, Params: params}
	return b
}

// Script sets the inline script run in phase ("enter", "leave" or "transition") for name.
func (b *Builder) Script(phase, name, source string) *Builder {
	var target *map[string]string
	switch phase {
	case "enter":
		target = &b.def.Scripts.Enter
	case "leave":
		target = &b.def.Scripts.Leave
	case "transition":
		target = &b.def.Scripts.Transition
	default:
		panic(fmt.Sprintf("dsl: unknown script phase %q", phase))
	}
	if *target == nil {
		*target = make(map[string]string)
	}
	(*target)[name] = source
	return b
}

// Definition returns the assembled definition.
func (b *Builder) Definition() *domain.Definition {
	def := b.def
	def.Transitions = make([]domain.TransitionSpec, 0, len(b.transitions))
	for _, tb := range b.transitions {
		def.Transitions = append(def.Transitions, tb.spec)
	}
	return &def
}

// Store serializes the definition into a memory store.
func (b *Builder) Store() (*memory.Store, error) {
	store, err := memory.NewFromDefinitions(b.Definition())
	if err != nil {
		return nil, fmt.Errorf("failed to build memory store: %w", err)
	}
	return store, nil
}
