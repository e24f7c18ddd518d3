package machine

import (
	"fmt"
	"slices"

	"github.com/aretw0/switchboard/pkg/domain"
)

// Validate reports every structural problem of def at once. It returns nil or a
// *domain.ValidationErrors.
func Validate(def *domain.Definition) error {
	v := &validator{def: def}
	v.run()
	if len(v.errs) == 0 {
		return nil
	}
	return &domain.ValidationErrors{ID: def.ID, Errors: v.errs}
}

type validator struct {
	def  *domain.Definition
	errs []error
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, &domain.DefinitionError{
		ID:     v.def.ID,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Err:    domain.ErrInvalidDefinition,
	})
}

func (v *validator) run() {
	def := v.def
	if def.ID == "" {
		v.add("id", "is required")
	}
	if def.Initial == "" {
		v.add("initial", "is required")
	} else if def.Initial == domain.Wildcard {
		v.add("initial", "cannot be the wildcard")
	} else if !v.declared(def.Initial) {
		v.add("initial", "state %q is not used by any transition or state entry", def.Initial)
	}

	transitionNames := make(map[string]bool)
	for i, t := range def.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		if t.Name == "" {
			v.add(field+".name", "is required")
		}
		if t.To == "" {
			v.add(field+".to", "is required")
		} else if t.To == domain.Wildcard {
			v.add(field+".to", "cannot be the wildcard")
		}
		if len(t.From) == 0 {
			v.add(field+".from", "is required")
		}
		for _, f := range t.From {
			if f == "" {
				v.add(field+".from", "contains an empty state")
			}
		}
		transitionNames[t.Name] = true
		v.actions(field+".actions", t.Actions)
	}
	v.ambiguity()

	for _, name := range sortedKeys(def.States) {
		st := def.States[name]
		v.actions(fmt.Sprintf("states.%s.onEntry", name), st.OnEntry)
		v.actions(fmt.Sprintf("states.%s.onExit", name), st.OnExit)
	}

	for _, name := range sortedKeys(def.Scripts.Enter) {
		if !v.declared(name) {
			v.add("scripts.enter."+name, "unknown state")
		}
	}
	for _, name := range sortedKeys(def.Scripts.Leave) {
		if !v.declared(name) {
			v.add("scripts.leave."+name, "unknown state")
		}
	}
	for _, name := range sortedKeys(def.Scripts.Transition) {
		if !transitionNames[name] {
			v.add("scripts.transition."+name, "unknown transition")
		}
	}

	for _, name := range sortedKeys(def.ExternalAPIs) {
		if def.ExternalAPIs[name].URL == "" {
			v.add("externalApis."+name+".url", "is required")
		}
	}
	for _, name := range sortedKeys(def.ARIActions) {
		if def.ARIActions[name].Operation == "" {
			v.add("ariActions."+name+".operation", "is required")
		}
	}
}

// declared reports whether s is a state named anywhere outside the initial field.
func (v *validator) declared(s string) bool {
	if _, ok := v.def.States[s]; ok {
		return true
	}
	for _, t := range v.def.Transitions {
		if t.To == s || slices.Contains(t.From, s) {
			return true
		}
	}
	return false
}

// ambiguity rejects two transitions with the same name that can leave the same state.
func (v *validator) ambiguity() {
	byName := make(map[string][]int)
	for i, t := range v.def.Transitions {
		if t.Name != "" {
			byName[t.Name] = append(byName[t.Name], i)
		}
	}
	for _, name := range sortedKeys(byName) {
		idx := byName[name]
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				if state, ok := overlap(v.def.Transitions[idx[a]], v.def.Transitions[idx[b]]); ok {
					v.add(fmt.Sprintf("transitions[%d]", idx[b]), "transition %q is ambiguous from state %q", name, state)
				}
			}
		}
	}
}

func overlap(a, b domain.TransitionSpec) (string, bool) {
	if a.IsWildcard() || b.IsWildcard() {
		return domain.Wildcard, true
	}
	for _, f := range a.From {
		if slices.Contains(b.From, f) {
			return f, true
		}
	}
	return "", false
}

func (v *validator) actions(field string, actions []domain.Action) {
	for i, a := range actions {
		f := fmt.Sprintf("%s[%d]", field, i)
		switch a.Type {
		case domain.ActionExternalAPI:
			switch {
			case a.Request == nil || (a.Request.Name == "" && a.Request.Inline == nil):
				v.add(f+".request", "is required")
			case a.Request.Inline != nil && a.Request.Inline.URL == "":
				v.add(f+".request.url", "is required")
			case a.Request.Name != "":
				if _, ok := v.def.ExternalAPIs[a.Request.Name]; !ok {
					v.add(f+".request", "unknown external API %q", a.Request.Name)
				}
			}
		case domain.ActionControl:
			switch {
			case a.Template != "":
				if _, ok := v.def.ARIActions[a.Template]; !ok {
					v.add(f+".action", "unknown ARI action %q", a.Template)
				}
			case a.Operation == "":
				v.add(f+".operation", "is required")
			}
		case domain.ActionSet:
			switch a.Field {
			case "":
				v.add(f+".field", "is required")
			case "state", "id":
				v.add(f+".field", "%q is reserved", a.Field)
			}
		case domain.ActionLog:
		default:
			v.add(f+".type", "unknown action type %q", a.Type)
		}
	}
}
