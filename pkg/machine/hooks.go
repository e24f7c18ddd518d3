package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/aretw0/switchboard/pkg/script"
	"github.com/mitchellh/mapstructure"
)

// Phase is a lifecycle extension point.
type Phase string

const (
	PhaseLeave      Phase = "leave"
	PhaseTransition Phase = "transition"
	PhaseEnter      Phase = "enter"
)

// HookKey identifies a bound hook. Name is a state for leave and enter, a transition otherwise.
type HookKey struct {
	Phase Phase
	Name  string
}

func (k HookKey) String() string {
	return string(k.Phase) + ":" + k.Name
}

// hook is the compiled form of one extension point: declared actions first, then the script.
type hook struct {
	key     HookKey
	actions []domain.Action
	script  *script.Program
}

func (h *hook) empty() bool {
	return h == nil || (len(h.actions) == 0 && h.script == nil)
}

func (h *hook) run(ctx context.Context, exec *pipeline.Executor, t *target, lc domain.Lifecycle, payload map[string]any) error {
	if h.empty() {
		return nil
	}
	if err := exec.Run(ctx, h.actions, t, lc, payload); err != nil {
		return err
	}
	if h.script == nil {
		return nil
	}

	scope := pipeline.ScopeFor(t, lc, payload)
	fields, err := h.script.Run(ctx, script.Env{
		Fields:    scope.Instance,
		Lifecycle: scope.Lifecycle,
		Payload:   payload,
		Call: func(ctx context.Context, ref any) (any, error) {
			req, err := requestRef(ref)
			if err != nil {
				return nil, scriptError(h.key, err)
			}
			return exec.Call(ctx, req, t, pipeline.ScopeFor(t, lc, payload))
		},
		Control: func(ctx context.Context, op string, params map[string]any) (map[string]any, error) {
			tmpl := domain.ControlTemplate{Operation: op, Params: params}
			return exec.Control(ctx, tmpl, t, pipeline.ScopeFor(t, lc, payload))
		},
	})
	if err != nil {
		var ae *domain.ActionError
		if errors.As(err, &ae) {
			return err
		}
		return scriptError(h.key, err)
	}
	for k, v := range fields {
		t.SetField(k, v)
	}
	return nil
}

func requestRef(ref any) (domain.RequestRef, error) {
	switch v := ref.(type) {
	case string:
		return domain.RequestRef{Name: v}, nil
	case map[string]any:
		var tmpl domain.HTTPTemplate
		if err := mapstructure.Decode(v, &tmpl); err != nil {
			return domain.RequestRef{}, fmt.Errorf("inline request: %w", err)
		}
		return domain.RequestRef{Inline: &tmpl}, nil
	}
	return domain.RequestRef{}, fmt.Errorf("call expects a request name or object, got %T", ref)
}

func scriptError(key HookKey, err error) error {
	return &domain.ActionError{
		Type: domain.ActionScript,
		Name: key.String(),
		Kind: domain.FailureConfig,
		Err:  err,
	}
}
