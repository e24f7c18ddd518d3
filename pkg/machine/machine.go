package machine

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/google/uuid"
)

type edge struct {
	index int
	spec  domain.TransitionSpec
	hook  *hook
}

// Machine is a compiled definition. It is immutable and shared by all its instances.
type Machine struct {
	id           string
	initial      string
	description  string
	states       []string
	edges        []*edge
	stateHooks   map[HookKey]*hook
	terminal     map[string]bool
	externalAPIs map[string]domain.HTTPTemplate
	ariActions   map[string]domain.ControlTemplate

	executor     *pipeline.Executor
	hooks        domain.LifecycleHooks
	maxFollowUps int
	logger       *slog.Logger
}

// ID returns the machine identifier.
func (m *Machine) ID() string { return m.id }

// Initial returns the state new instances start in.
func (m *Machine) Initial() string { return m.initial }

// States returns every state in first-seen order.
func (m *Machine) States() []string { return slices.Clone(m.states) }

// IsTerminal reports whether state is one of the machine's terminal states.
func (m *Machine) IsTerminal(state string) bool { return m.terminal[state] }

// HasTransition reports whether any edge carries name.
func (m *Machine) HasTransition(name string) bool {
	for _, e := range m.edges {
		if e.spec.Name == name {
			return true
		}
	}
	return false
}

// Hook reports whether a non-empty hook is bound to key.
func (m *Machine) Hook(key HookKey) bool {
	if key.Phase == PhaseTransition {
		for _, e := range m.edges {
			if e.spec.Name == key.Name && !e.hook.empty() {
				return true
			}
		}
		return false
	}
	return !m.stateHooks[key].empty()
}

// lookup returns the edge named name that may leave state.
func (m *Machine) lookup(state, name string) (*edge, bool) {
	for _, e := range m.edges {
		if e.spec.Name == name && e.spec.Matches(state) {
			return e, true
		}
	}
	return nil, false
}

// available lists the transitions executable from state, in declaration order, without duplicates.
func (m *Machine) available(state string) []string {
	var names []string
	for _, e := range m.edges {
		if e.spec.Matches(state) && !slices.Contains(names, e.spec.Name) {
			names = append(names, e.spec.Name)
		}
	}
	return names
}

// Definition returns the static description of the machine. Action lists are not part of
// it; they only exist in the compiled hooks.
func (m *Machine) Definition() *domain.Definition {
	def := &domain.Definition{
		ID:           m.id,
		Initial:      m.initial,
		Description:  m.description,
		ExternalAPIs: maps.Clone(m.externalAPIs),
		ARIActions:   maps.Clone(m.ariActions),
	}
	for _, e := range m.edges {
		def.Transitions = append(def.Transitions, domain.TransitionSpec{
			Name: e.spec.Name,
			From: slices.Clone(e.spec.From),
			To:   e.spec.To,
		})
	}
	def.TerminalStates = sortedKeys(m.terminal)
	return def
}

// New creates an instance in the initial state seeded with a copy of seed.
func (m *Machine) New(seed map[string]any, opts ...InstanceOption) *Instance {
	inst := &Instance{
		id:      uuid.NewString(),
		machine: m,
		state:   m.initial,
		fields:  maps.Clone(seed),
		logger:  m.logger,
	}
	if inst.fields == nil {
		inst.fields = make(map[string]any)
	}
	for _, opt := range opts {
		opt(inst)
	}
	inst.logger = inst.logger.With("instance_id", inst.id)
	return inst
}

// Edge is one drawn transition of a Graph.
type Edge struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the visualisation view of a machine. Wildcard sources are expanded to every state.
type Graph struct {
	ID       string   `json:"id"`
	Initial  string   `json:"initial"`
	States   []string `json:"states"`
	Terminal []string `json:"terminal,omitempty"`
	Edges    []Edge   `json:"edges"`
}

// Graph returns the expanded transition graph.
func (m *Machine) Graph() Graph {
	g := Graph{
		ID:       m.id,
		Initial:  m.initial,
		States:   m.States(),
		Terminal: sortedKeys(m.terminal),
	}
	for _, e := range m.edges {
		for _, from := range e.spec.From {
			if from != domain.Wildcard {
				g.Edges = append(g.Edges, Edge{Name: e.spec.Name, From: from, To: e.spec.To})
				continue
			}
			for _, s := range m.states {
				g.Edges = append(g.Edges, Edge{Name: e.spec.Name, From: s, To: e.spec.To})
			}
		}
	}
	return g
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}
