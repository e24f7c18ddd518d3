package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

// DefaultMaxAllocs caps the objects a single run may allocate.
const DefaultMaxAllocs = 100000

// Modules lists the importable standard modules.
var Modules = []string{"math", "text", "times", "json", "fmt"}

// Options configures compilation.
type Options struct {
	// MaxAllocs limits allocations per run. Zero uses DefaultMaxAllocs, negative disables the cap.
	MaxAllocs int64
}

// Env is what one run of a program can see and do.
type Env struct {
	Fields    map[string]any
	Lifecycle map[string]any
	Payload   map[string]any

	// Call performs an external request. ref is a request name or an inline request map.
	Call func(ctx context.Context, ref any) (any, error)
	// Control performs a call-control operation and returns its result.
	Control func(ctx context.Context, operation string, params map[string]any) (map[string]any, error)
}

// Program is a compiled script. It is safe for concurrent use; every Run works on a clone.
type Program struct {
	src      string
	compiled *tengo.Compiled
}

var globals = []string{"fsm", "lifecycle", "payload", "call", "ari"}

// Compile parses and compiles src.
func Compile(src string, opts Options) (*Program, error) {
	s := tengo.NewScript([]byte(src))
	for _, name := range globals {
		if err := s.Add(name, tengo.UndefinedValue); err != nil {
			return nil, err
		}
	}
	s.SetImports(stdlib.GetModuleMap(Modules...))

	switch {
	case opts.MaxAllocs == 0:
		s.SetMaxAllocs(DefaultMaxAllocs)
	case opts.MaxAllocs > 0:
		s.SetMaxAllocs(opts.MaxAllocs)
	}

	compiled, err := s.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return &Program{src: src, compiled: compiled}, nil
}

// Source returns the script text.
func (p *Program) Source() string {
	return p.src
}

// Run executes the program and returns the fields the script added or changed, without the
// reserved "state" and "id" keys. Untouched fields are left out so their Go types survive.
// Errors raised by capability functions are returned as-is.
func (p *Program) Run(ctx context.Context, env Env) (map[string]any, error) {
	c := p.compiled.Clone()

	// A capability failure aborts the VM; the original error is reported instead of the VM's.
	var capErr error
	fail := func(err error) (tengo.Object, error) {
		capErr = err
		return nil, err
	}

	fields, err := toObject(env.Fields)
	if err != nil {
		return nil, fmt.Errorf("script fsm: %w", err)
	}
	before, _ := tengo.ToInterface(fields).(map[string]any)
	lifecycle, err := toObject(env.Lifecycle)
	if err != nil {
		return nil, fmt.Errorf("script lifecycle: %w", err)
	}
	payload, err := toObject(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("script payload: %w", err)
	}

	call := &tengo.UserFunction{Name: "call", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		if env.Call == nil {
			return fail(errors.New("external calls are not available to scripts"))
		}
		res, err := env.Call(ctx, tengo.ToInterface(args[0]))
		if err != nil {
			return fail(err)
		}
		return toObject(res)
	}}

	ari := &tengo.UserFunction{Name: "ari", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, tengo.ErrWrongNumArguments
		}
		op, ok := tengo.ToString(args[0])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "operation", Expected: "string", Found: args[0].TypeName()}
		}
		params := map[string]any{}
		if len(args) == 2 {
			m, ok := tengo.ToInterface(args[1]).(map[string]any)
			if !ok && args[1] != tengo.UndefinedValue {
				return nil, tengo.ErrInvalidArgumentType{Name: "params", Expected: "map", Found: args[1].TypeName()}
			}
			if m != nil {
				params = m
			}
		}
		if env.Control == nil {
			return fail(errors.New("call control is not available to scripts"))
		}
		res, err := env.Control(ctx, op, params)
		if err != nil {
			return fail(err)
		}
		return toObject(res)
	}}

	for name, value := range map[string]tengo.Object{
		"fsm":       fields,
		"lifecycle": lifecycle,
		"payload":   payload,
		"call":      call,
		"ari":       ari,
	} {
		if err := c.Set(name, value); err != nil {
			return nil, err
		}
	}

	if err := c.RunContext(ctx); err != nil {
		if capErr != nil {
			return nil, capErr
		}
		return nil, fmt.Errorf("run script: %w", err)
	}

	out := c.Get("fsm").Map()
	if out == nil {
		return nil, errors.New("script replaced fsm with a non-map value")
	}
	delete(out, "state")
	delete(out, "id")
	for k, v := range out {
		if prev, ok := before[k]; ok && reflect.DeepEqual(prev, v) {
			delete(out, k)
		}
	}
	return out, nil
}

// toObject converts a Go value into a tengo object. Values tengo cannot convert directly are
// passed through a JSON round trip first.
func toObject(v any) (tengo.Object, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		return &tengo.Map{Value: map[string]tengo.Object{}}, nil
	}
	obj, err := tengo.FromInterface(v)
	if err == nil {
		return obj, nil
	}
	raw, merr := json.Marshal(v)
	if merr != nil {
		return nil, err
	}
	var plain any
	if uerr := json.Unmarshal(raw, &plain); uerr != nil {
		return nil, err
	}
	return tengo.FromInterface(plain)
}
