// Package validator reports smells in definitions and compiled machine graphs.
package validator

import (
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/pipeline"
)

// Warning is a problem that does not prevent the machine from running.
type Warning struct {
	State   string
	Field   string
	Message string
}

func (w Warning) String() string {
	if w.Field != "" {
		return fmt.Sprintf("%s: %s", w.Field, w.Message)
	}
	return fmt.Sprintf("state %q: %s", w.State, w.Message)
}

// LintGraph crawls g from its initial state and reports unreachable states and non-terminal
// states without a way out. Terminal states are expected to be dead ends.
func LintGraph(g machine.Graph) []Warning {
	out := make(map[string][]string)
	for _, e := range g.Edges {
		out[e.From] = append(out[e.From], e.To)
	}

	visited := make(map[string]bool)
	queue := []string{g.Initial}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, next := range out[current] {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
	}

	var warnings []Warning
	for _, s := range g.States {
		if !visited[s] {
			warnings = append(warnings, Warning{State: s, Message: "unreachable from the initial state"})
			continue
		}
		if slices.Contains(g.Terminal, s) {
			continue
		}
		if !leaves(out[s], s) {
			warnings = append(warnings, Warning{State: s, Message: "is not terminal but has no transition to another state"})
		}
	}
	return warnings
}

func leaves(targets []string, from string) bool {
	for _, t := range targets {
		if t != from {
			return true
		}
	}
	return false
}

// LintActions reports ari actions whose operation the executor does not support. They only
// fail when the action runs, so a machine carrying one still loads.
func LintActions(def *domain.Definition) []Warning {
	var warnings []Warning
	check := func(field, op string) {
		if op != "" && !slices.Contains(pipeline.SupportedOperations(), op) {
			warnings = append(warnings, Warning{Field: field, Message: fmt.Sprintf("unsupported ARI operation %q", op)})
		}
	}
	scan := func(field string, actions []domain.Action) {
		for i, a := range actions {
			if a.Type == domain.ActionControl {
				check(fmt.Sprintf("%s[%d].operation", field, i), a.Operation)
			}
		}
	}

	for i, t := range def.Transitions {
		scan(fmt.Sprintf("transitions[%d].actions", i), t.Actions)
	}
	for _, name := range slices.Sorted(maps.Keys(def.States)) {
		st := def.States[name]
		scan("states."+name+".onEntry", st.OnEntry)
		scan("states."+name+".onExit", st.OnExit)
	}
	for _, name := range slices.Sorted(maps.Keys(def.ARIActions)) {
		check("ariActions."+name+".operation", def.ARIActions[name].Operation)
	}
	return warnings
}
