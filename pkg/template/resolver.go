// Package template resolves {{source.path}} placeholders against an instance, the
// lifecycle record of the running transition and its event payload.
package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/switchboard/internal/logging"
)

var placeholder = regexp.MustCompile(`\{\{\s*(fsm|instance|event|lifecycle|payload|eventPayload)\.([A-Za-z0-9_.\-#*]+)\s*\}\}`)

// Scope holds the three contexts a placeholder may read from.
type Scope struct {
	Instance  map[string]any
	Lifecycle map[string]any
	Payload   map[string]any
}

func (s Scope) source(name string) (map[string]any, bool) {
	switch name {
	case "fsm", "instance":
		return s.Instance, s.Instance != nil
	case "event", "lifecycle":
		return s.Lifecycle, s.Lifecycle != nil
	case "payload", "eventPayload":
		return s.Payload, s.Payload != nil
	}
	return nil, false
}

// Resolver substitutes placeholders. The zero value is not usable; call New.
type Resolver struct {
	logger *slog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for unresolved placeholder diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve replaces every resolvable placeholder in s. Unresolvable placeholders are left verbatim.
func (r *Resolver) Resolve(s string, scope Scope) string {
	return r.replace(s, scope, false)
}

// ResolveValue resolves placeholders anywhere inside a structured value.
// Strings are resolved directly; maps and slices are encoded to JSON, substituted with
// JSON-escaped replacements and decoded again. Other values are returned unchanged.
func (r *Resolver) ResolveValue(v any, scope Scope) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return r.Resolve(val, scope), nil
	case map[string]any, []any, map[string]string, []string:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to encode template value: %w", err)
		}
		resolved := r.replace(string(raw), scope, true)
		var out any
		if err := json.Unmarshal([]byte(resolved), &out); err != nil {
			return nil, fmt.Errorf("failed to decode resolved template value: %w", err)
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveMap resolves every value of a parameter map.
func (r *Resolver) ResolveMap(params map[string]any, scope Scope) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	out, err := r.ResolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (r *Resolver) replace(s string, scope Scope, jsonEscape bool) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		source, path := parts[1], parts[2]

		root, ok := scope.source(source)
		if !ok {
			r.logger.Debug("Placeholder source unavailable", "placeholder", match, "source", source)
			return match
		}
		value, ok := Lookup(root, path)
		if !ok {
			r.logger.Warn("Placeholder resolver: key not found", "placeholder", match, "source", source, "path", path)
			return match
		}

		text := Stringify(value)
		if jsonEscape {
			quoted, _ := json.Marshal(text)
			return string(quoted[1 : len(quoted)-1])
		}
		return text
	})
}

// Lookup walks a dot-separated path through nested maps and slices.
func Lookup(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value as placeholder text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool, int, int64, int32, uint, uint64:
		return fmt.Sprint(val)
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

// Placeholders lists the source.path references found in s.
func Placeholders(s string) []string {
	var refs []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		refs = append(refs, m[1]+"."+m[2])
	}
	return refs
}
