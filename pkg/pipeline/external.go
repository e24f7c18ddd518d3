package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/template"
)

func (e *Executor) runExternal(ctx context.Context, action domain.Action, target Target, scope template.Scope) error {
	if action.Request == nil {
		err := configError(action, fmt.Errorf("externalApi action is missing 'request' configuration"))
		e.deferFailure(target, action.OnFailure, "apiError", err)
		return err
	}

	body, err := e.Call(ctx, *action.Request, target, scope)
	if err != nil {
		e.deferFailure(target, action.OnFailure, "apiError", err)
		return err
	}

	if action.StoreResponseAs != "" {
		target.SetField(action.StoreResponseAs, body)
		e.logger.Debug("Stored API response", "machine_id", target.MachineID(), "field", action.StoreResponseAs)
	}
	if action.OnSuccess != "" {
		target.Defer(domain.FollowUp{
			Transition: action.OnSuccess,
			Payload:    map[string]any{"apiResponse": body},
		})
	}
	return nil
}

// Call performs one external request (named or inline) and returns the decoded response body.
// Errors are *domain.ActionError values.
func (e *Executor) Call(ctx context.Context, ref domain.RequestRef, target Target, scope template.Scope) (any, error) {
	action := domain.Action{Type: domain.ActionExternalAPI, Request: &ref}
	name := ref.Label()

	tmpl, err := e.requestTemplate(ref, target)
	if err != nil {
		return nil, configError(action, err)
	}

	req, err := e.buildRequest(name, tmpl, scope)
	if err != nil {
		return nil, configError(action, err)
	}

	if e.http == nil {
		return nil, externalError(action, fmt.Errorf("External API call %s failed: no HTTP client configured", name))
	}

	e.logger.Debug("Making external API call", "name", name, "method", req.Method, "url", req.URL)
	resp, err := e.http.Do(ctx, req)
	if err != nil {
		e.logger.Warn("External API call failed", "name", name, "machine_id", target.MachineID(), "err", err)
		return nil, externalError(action, fmt.Errorf("External API call %s failed: %w", name, err))
	}
	e.logger.Debug("External API call successful", "name", name, "status", resp.Status)
	return resp.Body, nil
}

func (e *Executor) requestTemplate(ref domain.RequestRef, target Target) (domain.HTTPTemplate, error) {
	if ref.Inline != nil {
		if ref.Inline.URL == "" {
			return domain.HTTPTemplate{}, fmt.Errorf("inline request requires a url")
		}
		return *ref.Inline, nil
	}
	if ref.Name == "" {
		return domain.HTTPTemplate{}, fmt.Errorf("request must be a name or a request object")
	}
	tmpl, ok := target.ExternalAPI(ref.Name)
	if !ok {
		return domain.HTTPTemplate{}, fmt.Errorf("API call configuration %q not found", ref.Name)
	}
	return tmpl, nil
}

func (e *Executor) buildRequest(name string, tmpl domain.HTTPTemplate, scope template.Scope) (ports.HTTPRequest, error) {
	method := strings.ToUpper(strings.TrimSpace(tmpl.Method))
	if method == "" {
		method = "GET"
	}

	headers := make(map[string]string, len(tmpl.Headers))
	for k, v := range tmpl.Headers {
		headers[k] = e.resolver.Resolve(v, scope)
	}

	body, err := e.resolver.ResolveValue(tmpl.Body, scope)
	if err != nil {
		return ports.HTTPRequest{}, err
	}

	timeout := e.defaultTimeout
	if tmpl.Timeout > 0 {
		timeout = time.Duration(tmpl.Timeout) * time.Millisecond
	}

	return ports.HTTPRequest{
		Name:    name,
		Method:  method,
		URL:     e.resolver.Resolve(tmpl.URL, scope),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

func (e *Executor) deferFailure(target Target, transition, key string, err error) {
	if transition == "" {
		return
	}
	msg := err.Error()
	var ae *domain.ActionError
	if errors.As(err, &ae) {
		msg = ae.Err.Error()
	}
	target.Defer(domain.FollowUp{
		Transition: transition,
		Payload:    map[string]any{key: msg},
	})
}
