package domain

// Wildcard is the transition source that matches every state.
const Wildcard = "*"

// Definition is the immutable, declarative description of a machine.
type Definition struct {
	ID             string                     `json:"id" mapstructure:"id"`
	Initial        string                     `json:"initial" mapstructure:"initial"`
	TerminalStates []string                   `json:"terminalStates,omitempty" mapstructure:"terminalStates"`
	Transitions    []TransitionSpec           `json:"transitions" mapstructure:"transitions"`
	States         map[string]StateSpec       `json:"states,omitempty" mapstructure:"states"`
	Scripts        Scripts                    `json:"scripts,omitempty" mapstructure:"scripts"`
	ExternalAPIs   map[string]HTTPTemplate    `json:"externalApis,omitempty" mapstructure:"externalApis"`
	ARIActions     map[string]ControlTemplate `json:"ariActions,omitempty" mapstructure:"ariActions"`
	Description    string                     `json:"description,omitempty" mapstructure:"description"`
}

// TransitionSpec describes one named edge. From holds one or more source states or Wildcard.
type TransitionSpec struct {
	Name    string   `json:"name" mapstructure:"name"`
	From    []string `json:"from" mapstructure:"from"`
	To      string   `json:"to" mapstructure:"to"`
	Actions []Action `json:"actions,omitempty" mapstructure:"actions"`
}

// Matches reports whether the transition may leave the given state.
func (t TransitionSpec) Matches(state string) bool {
	for _, f := range t.From {
		if f == Wildcard || f == state {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the transition applies to every state.
func (t TransitionSpec) IsWildcard() bool {
	for _, f := range t.From {
		if f == Wildcard {
			return true
		}
	}
	return false
}

// StateSpec holds the entry and exit action lists declared for a state.
type StateSpec struct {
	OnEntry []Action `json:"onEntry,omitempty" mapstructure:"onEntry"`
	OnExit  []Action `json:"onExit,omitempty" mapstructure:"onExit"`
}

// Scripts holds inline hook scripts keyed by phase and then by state or transition name.
type Scripts struct {
	Enter      map[string]string `json:"enter,omitempty" mapstructure:"enter"`
	Leave      map[string]string `json:"leave,omitempty" mapstructure:"leave"`
	Transition map[string]string `json:"transition,omitempty" mapstructure:"transition"`
}

// Empty reports whether no script is declared.
func (s Scripts) Empty() bool {
	return len(s.Enter) == 0 && len(s.Leave) == 0 && len(s.Transition) == 0
}

// HTTPTemplate is a templated HTTP request. Timeout is in milliseconds.
type HTTPTemplate struct {
	URL     string            `json:"url" mapstructure:"url"`
	Method  string            `json:"method,omitempty" mapstructure:"method"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Body    any               `json:"body,omitempty" mapstructure:"body"`
	Timeout int               `json:"timeout,omitempty" mapstructure:"timeout"`
}

// ControlTemplate is a named call-control operation with templated parameters.
type ControlTemplate struct {
	Operation string         `json:"operation" mapstructure:"operation"`
	Params    map[string]any `json:"params,omitempty" mapstructure:"params"`
}

// StateNames returns every state referenced by the definition in first-seen order.
// The wildcard is never a state.
func (d *Definition) StateNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(s string) {
		if s == "" || s == Wildcard || seen[s] {
			return
		}
		seen[s] = true
		names = append(names, s)
	}

	add(d.Initial)
	for _, t := range d.Transitions {
		for _, f := range t.From {
			add(f)
		}
		add(t.To)
	}
	for name := range d.States {
		add(name)
	}
	return names
}
