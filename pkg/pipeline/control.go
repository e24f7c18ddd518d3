package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/template"
)

// DefaultOriginateTimeoutMS applies when originateCall declares no timeout.
const DefaultOriginateTimeoutMS = 30000

type controlOp struct {
	needsSession bool
	required     []string
	run          func(ctx context.Context, cc ports.CallControl, channelID string, p params) (map[string]any, error)
}

type params map[string]any

func (p params) str(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return template.Stringify(v)
}

func (p params) num(key string, def int) int {
	s := p.str(key)
	if s == "" {
		return def
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return int(n)
}

var controlOps = map[string]controlOp{
	"answer": {
		needsSession: true,
		run: func(ctx context.Context, cc ports.CallControl, ch string, _ params) (map[string]any, error) {
			if err := cc.Answer(ctx, ch); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "message": "Channel answered"}, nil
		},
	},
	"hangup": {
		needsSession: true,
		run: func(ctx context.Context, cc ports.CallControl, ch string, _ params) (map[string]any, error) {
			if err := cc.Hangup(ctx, ch); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "message": "Channel hung up"}, nil
		},
	},
	"playAudio": {
		needsSession: true,
		required:     []string{"media"},
		run: func(ctx context.Context, cc ports.CallControl, ch string, p params) (map[string]any, error) {
			id, err := cc.Play(ctx, ch, p.str("media"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "playbackId": id, "message": "Playback started"}, nil
		},
	},
	"getData": {
		needsSession: true,
		required:     []string{"media"},
		run: func(ctx context.Context, cc ports.CallControl, ch string, p params) (map[string]any, error) {
			// Digits arrive later as input events; only the prompt is played here.
			id, err := cc.Play(ctx, ch, p.str("media"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "playbackId": id, "message": "Prompt playback started"}, nil
		},
	},
	"getVariable": {
		needsSession: true,
		required:     []string{"variable"},
		run: func(ctx context.Context, cc ports.CallControl, ch string, p params) (map[string]any, error) {
			value, err := cc.GetVariable(ctx, ch, p.str("variable"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "value": value}, nil
		},
	},
	"setVariable": {
		needsSession: true,
		required:     []string{"variable", "value"},
		run: func(ctx context.Context, cc ports.CallControl, ch string, p params) (map[string]any, error) {
			if err := cc.SetVariable(ctx, ch, p.str("variable"), p.str("value")); err != nil {
				return nil, err
			}
			return map[string]any{"success": true}, nil
		},
	},
	"originateCall": {
		required: []string{"endpoint"},
		run: func(ctx context.Context, cc ports.CallControl, _ string, p params) (map[string]any, error) {
			channel, err := cc.Originate(ctx, ports.OriginateRequest{
				Endpoint:  p.str("endpoint"),
				Context:   p.str("context"),
				Extension: p.str("extension"),
				Priority:  p.num("priority", 0),
				CallerID:  p.str("callerId"),
				AppArgs:   p.str("appArgs"),
				TimeoutMS: p.num("timeout", DefaultOriginateTimeoutMS),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success":   true,
				"channelId": channel.ID,
				"name":      channel.Name,
				"state":     channel.State,
			}, nil
		},
	},
}

// SupportedOperations lists the call-control operations understood by ari actions.
func SupportedOperations() []string {
	return []string{"answer", "hangup", "playAudio", "getData", "getVariable", "setVariable", "originateCall"}
}

func (e *Executor) runControl(ctx context.Context, action domain.Action, target Target, scope template.Scope) error {
	tmpl, err := controlTemplate(action, target)
	if err != nil {
		err = configError(action, err)
		e.deferFailure(target, action.OnFailure, "ariError", err)
		return err
	}

	result, err := e.Control(ctx, tmpl, target, scope)
	if err != nil {
		e.deferFailure(target, action.OnFailure, "ariError", err)
		return err
	}

	if action.StoreResponseAs != "" {
		target.SetField(action.StoreResponseAs, result)
	}
	if action.OnSuccess != "" {
		target.Defer(domain.FollowUp{
			Transition: action.OnSuccess,
			Payload:    map[string]any{"ariResponse": result},
		})
	}
	return nil
}

// Control performs one call-control operation. An explicit channelId parameter overrides the
// target's bound session. Errors are *domain.ActionError values.
func (e *Executor) Control(ctx context.Context, tmpl domain.ControlTemplate, target Target, scope template.Scope) (map[string]any, error) {
	action := domain.Action{Type: domain.ActionControl, Operation: tmpl.Operation}

	op, ok := controlOps[tmpl.Operation]
	if !ok {
		return nil, configError(action, fmt.Errorf("Unsupported ARI operation: %s", tmpl.Operation))
	}

	resolved, err := e.resolver.ResolveMap(tmpl.Params, scope)
	if err != nil {
		return nil, configError(action, err)
	}
	p := params(resolved)

	channelID := p.str("channelId")
	if channelID == "" {
		channelID = target.SessionID()
	}
	if op.needsSession && channelID == "" {
		return nil, configError(action, fmt.Errorf("No channelId for %s", tmpl.Operation))
	}
	for _, key := range op.required {
		if _, ok := p[key]; !ok {
			return nil, configError(action, fmt.Errorf("Missing '%s' parameter for %s", key, tmpl.Operation))
		}
	}

	if e.control == nil {
		return nil, externalError(action, domain.ErrControlUnavailable)
	}

	e.logger.Debug("Executing call-control operation",
		"machine_id", target.MachineID(),
		"operation", tmpl.Operation,
		"channel_id", channelID,
	)
	result, err := op.run(ctx, e.control, channelID, p)
	if err != nil {
		e.logger.Warn("Call-control operation failed", "operation", tmpl.Operation, "channel_id", channelID, "err", err)
		return nil, externalError(action, fmt.Errorf("ARI operation %q on channel %s failed: %w", tmpl.Operation, orNA(channelID), err))
	}
	return result, nil
}

func controlTemplate(action domain.Action, target Target) (domain.ControlTemplate, error) {
	if action.Template == "" {
		if action.Operation == "" {
			return domain.ControlTemplate{}, errors.New("ari action requires an operation or a named action")
		}
		return domain.ControlTemplate{Operation: action.Operation, Params: action.Params}, nil
	}

	tmpl, ok := target.ControlAction(action.Template)
	if !ok {
		return domain.ControlTemplate{}, fmt.Errorf("ARI action configuration %q not found", action.Template)
	}
	if action.Operation != "" {
		tmpl.Operation = action.Operation
	}
	if len(action.Params) > 0 {
		merged := make(map[string]any, len(tmpl.Params)+len(action.Params))
		for k, v := range tmpl.Params {
			merged[k] = v
		}
		for k, v := range action.Params {
			merged[k] = v
		}
		tmpl.Params = merged
	}
	return tmpl, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
