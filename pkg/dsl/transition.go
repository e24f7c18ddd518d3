package dsl

import "github.com/aretw0/switchboard/pkg/domain"

// TransitionBuilder provides a fluent API for configuring a transition.
type TransitionBuilder struct {
	spec domain.TransitionSpec
}

// From adds source states.
func (t *TransitionBuilder) From(states ...string) *TransitionBuilder {
	t.spec.From = append(t.spec.From, states...)
	return t
}

// FromAny makes the transition available from every state.
func (t *TransitionBuilder) FromAny() *TransitionBuilder {
	t.spec.From = []string{domain.Wildcard}
	return t
}

// To sets the destination state.
func (t *TransitionBuilder) To(state string) *TransitionBuilder {
	t.spec.To = state
	return t
}

// Do appends actions run by the transition hook.
func (t *TransitionBuilder) Do(actions ...domain.Action) *TransitionBuilder {
	t.spec.Actions = append(t.spec.Actions, actions...)
	return t
}

// StateBuilder configures the entry and exit hooks of one state.
type StateBuilder struct {
	name    string
	builder *Builder
}

// OnEntry appends actions run when the state is entered.
func (s *StateBuilder) OnEntry(actions ...domain.Action) *StateBuilder {
	spec := s.builder.def.States[s.name]
	spec.OnEntry = append(spec.OnEntry, actions...)
	s.builder.def.States[s.name] = spec
	return s
}

// OnExit appends actions run when the state is left.
func (s *StateBuilder) OnExit(actions ...domain.Action) *StateBuilder {
	spec := s.builder.def.States[s.name]
	spec.OnExit = append(spec.OnExit, actions...)
	s.builder.def.States[s.name] = spec
	return s
}
