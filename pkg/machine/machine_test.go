package machine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/aretw0/switchboard/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(ctx context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error)

func (f doerFunc) Do(ctx context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
	return f(ctx, req)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.TransitionEvent
}

func (r *recorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, *e)
		},
	}
}

func (r *recorder) count(transition string, outcome domain.Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Transition == transition && e.Outcome == outcome {
			n++
		}
	}
	return n
}

func ivr() *domain.Definition {
	return &domain.Definition{
		ID:             "ivr_demo",
		Initial:        "new_call",
		TerminalStates: []string{"call_ended"},
		Transitions: []domain.TransitionSpec{
			{Name: "startCall", From: []string{"new_call"}, To: "main_menu"},
			{Name: "input_1", From: []string{"main_menu"}, To: "lookup"},
			{Name: "found", From: []string{"lookup"}, To: "customer_menu"},
			{Name: "retry", From: []string{"main_menu"}, To: "retrying"},
			{Name: "repeat", From: []string{"main_menu"}, To: "main_menu"},
			{Name: "invalid_input", From: []string{"main_menu", "customer_menu"}, To: "main_menu"},
			{Name: "disconnect", From: []string{domain.Wildcard}, To: "call_ended"},
		},
		States: map[string]domain.StateSpec{
			"lookup": {
				OnEntry: []domain.Action{{
					Type:            domain.ActionExternalAPI,
					Request:         &domain.RequestRef{Name: "customer"},
					StoreResponseAs: "customer",
					OnSuccess:       "found",
					OnFailure:       "retry",
				}},
			},
		},
		ExternalAPIs: map[string]domain.HTTPTemplate{
			"customer": {URL: "http://crm/{{fsm.callerId}}"},
		},
	}
}

func compile(t *testing.T, def *domain.Definition, doer ports.HTTPDoer, opts ...machine.Option) *machine.Machine {
	t.Helper()
	exec := pipeline.NewExecutor(pipeline.WithHTTP(doer))
	m, err := machine.NewCompiler(append([]machine.Option{machine.WithExecutor(exec)}, opts...)...).Compile(def)
	require.NoError(t, err)
	return m
}

func okDoer(body any) ports.HTTPDoer {
	return doerFunc(func(context.Context, ports.HTTPRequest) (*ports.HTTPResponse, error) {
		return &ports.HTTPResponse{Status: 200, Body: body}, nil
	})
}

func TestCan_MatchesDeclaredSources(t *testing.T) {
	def := ivr()
	m := compile(t, def, okDoer(nil))

	for _, state := range m.States() {
		inst := m.New(nil)
		require.NoError(t, inst.SetState(state))
		for _, tr := range def.Transitions {
			want := false
			for _, spec := range def.Transitions {
				if spec.Name == tr.Name && spec.Matches(state) {
					want = true
				}
			}
			assert.Equal(t, want, inst.Can(tr.Name), "can(%s) from %s", tr.Name, state)
		}
	}
}

func TestFire_AdvancesToDestination(t *testing.T) {
	m := compile(t, ivr(), okDoer(nil))
	inst := m.New(map[string]any{"channelId": "ch-1"})

	require.NoError(t, inst.Fire(context.Background(), "startCall", nil))
	assert.Equal(t, "main_menu", inst.State())
	assert.Equal(t, "ch-1", inst.SessionID())
	assert.ElementsMatch(t, []string{"input_1", "retry", "repeat", "invalid_input", "disconnect"}, inst.Transitions())
}

func TestFire_RefusedKeepsState(t *testing.T) {
	m := compile(t, ivr(), okDoer(nil))
	inst := m.New(nil)

	err := inst.Fire(context.Background(), "input_1", nil)
	require.ErrorIs(t, err, domain.ErrTransitionRefused)

	var refused *domain.TransitionRefusedError
	require.True(t, errors.As(err, &refused))
	assert.Equal(t, "new_call", refused.State)
	assert.Equal(t, []string{"startCall", "disconnect"}, refused.Available)
	assert.Equal(t, "new_call", inst.State())
}

func TestFire_SuccessFollowUp(t *testing.T) {
	rec := &recorder{}
	m := compile(t, ivr(), okDoer(map[string]any{"name": "Ada"}), machine.WithHooks(rec.hooks()))
	inst := m.New(map[string]any{"callerId": "555"})
	require.NoError(t, inst.SetState("main_menu"))

	require.NoError(t, inst.Fire(context.Background(), "input_1", map[string]any{"digit": "1"}))

	assert.Equal(t, "customer_menu", inst.State())
	assert.Equal(t, map[string]any{"name": "Ada"}, inst.Fields()["customer"])
	assert.Equal(t, 1, rec.count("found", domain.OutcomeOK))
}

func TestFire_HookFailureAbortsAndRetriesOnce(t *testing.T) {
	rec := &recorder{}
	failing := doerFunc(func(context.Context, ports.HTTPRequest) (*ports.HTTPResponse, error) {
		return nil, errors.New("connection refused")
	})
	m := compile(t, ivr(), failing, machine.WithHooks(rec.hooks()))
	inst := m.New(nil)
	require.NoError(t, inst.SetState("main_menu"))

	err := inst.Fire(context.Background(), "input_1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrActionFailed)
	assert.True(t, domain.IsExternalFailure(err))

	// The failed transition left main_menu untouched, so the retry follow-up ran from there.
	assert.Equal(t, "retrying", inst.State())
	assert.Equal(t, 1, rec.count("input_1", domain.OutcomeFailed))
	assert.Equal(t, 1, rec.count("retry", domain.OutcomeOK))
	assert.Equal(t, 0, rec.count("found", domain.OutcomeOK))
}

func TestFire_FollowUpNotExecutableIsIgnored(t *testing.T) {
	def := ivr()
	def.States["lookup"].OnEntry[0].OnSuccess = "startCall"
	m := compile(t, def, okDoer(nil))
	inst := m.New(nil)
	require.NoError(t, inst.SetState("main_menu"))

	require.NoError(t, inst.Fire(context.Background(), "input_1", nil))
	assert.Equal(t, "lookup", inst.State())
}

func TestFire_PendingConflict(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := doerFunc(func(context.Context, ports.HTTPRequest) (*ports.HTTPResponse, error) {
		close(entered)
		<-release
		return &ports.HTTPResponse{Status: 200}, nil
	})
	def := ivr()
	def.States["lookup"].OnEntry[0].OnSuccess = ""
	m := compile(t, def, blocking)
	inst := m.New(nil)
	require.NoError(t, inst.SetState("main_menu"))

	done := make(chan error, 1)
	go func() { done <- inst.Fire(context.Background(), "input_1", nil) }()
	<-entered

	err := inst.Fire(context.Background(), "disconnect", nil)
	var pending *domain.PendingTransitionError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, "input_1", pending.Pending)
	assert.ErrorIs(t, inst.SetState("main_menu"), domain.ErrPendingTransition)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "lookup", inst.State())

	require.NoError(t, inst.Fire(context.Background(), "disconnect", nil))
	assert.True(t, inst.Terminal())
}

func TestDiscard_DropsFollowUps(t *testing.T) {
	var inst *machine.Instance
	doer := doerFunc(func(context.Context, ports.HTTPRequest) (*ports.HTTPResponse, error) {
		inst.Discard()
		return &ports.HTTPResponse{Status: 200}, nil
	})
	m := compile(t, ivr(), doer)
	inst = m.New(nil)
	require.NoError(t, inst.SetState("main_menu"))

	require.NoError(t, inst.Fire(context.Background(), "input_1", nil))
	assert.True(t, inst.Discarded())
	assert.Equal(t, "lookup", inst.State(), "found must not run after discard")
}

func TestFire_HookOrderAndSelfTransition(t *testing.T) {
	trail := func(tag string) string {
		return `fsm.trail = (is_undefined(fsm.trail) ? "" : fsm.trail) + "` + tag + `,"`
	}
	def := &domain.Definition{
		ID:      "order",
		Initial: "a",
		Transitions: []domain.TransitionSpec{
			{Name: "go", From: []string{"a"}, To: "b"},
			{Name: "stay", From: []string{"b"}, To: "b"},
		},
		Scripts: domain.Scripts{
			Leave:      map[string]string{"a": trail("leave:a"), "b": trail("leave:b")},
			Transition: map[string]string{"go": trail("go"), "stay": trail("stay")},
			Enter:      map[string]string{"b": trail("enter:b")},
		},
	}
	m := compile(t, def, okDoer(nil))
	inst := m.New(nil)

	require.NoError(t, inst.Fire(context.Background(), "go", nil))
	assert.Equal(t, "leave:a,go,enter:b,", inst.Fields()["trail"])

	require.NoError(t, inst.Fire(context.Background(), "stay", nil))
	assert.Equal(t, "leave:a,go,enter:b,stay,", inst.Fields()["trail"])
}

func TestFire_CancelledContextClearsFollowUps(t *testing.T) {
	call := func(onSuccess string) domain.Action {
		return domain.Action{
			Type:      domain.ActionExternalAPI,
			Request:   &domain.RequestRef{Inline: &domain.HTTPTemplate{URL: "http://crm/" + onSuccess}},
			OnSuccess: onSuccess,
		}
	}
	def := &domain.Definition{
		ID:      "cancel",
		Initial: "idle",
		Transitions: []domain.TransitionSpec{
			{Name: "go", From: []string{"idle"}, To: "lookup"},
			{Name: "a", From: []string{"lookup"}, To: "x"},
			{Name: "next", From: []string{"lookup"}, To: "y"},
			{Name: "b", From: []string{"y"}, To: "stale"},
		},
		States: map[string]domain.StateSpec{
			"lookup": {OnEntry: []domain.Action{call("a"), call("b")}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doer := doerFunc(func(_ context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
		if strings.HasSuffix(req.URL, "/b") {
			cancel()
		}
		return &ports.HTTPResponse{Status: 200}, nil
	})
	rec := &recorder{}
	inst := compile(t, def, doer, machine.WithHooks(rec.hooks())).New(nil)

	require.NoError(t, inst.Fire(ctx, "go", nil))
	assert.Equal(t, "lookup", inst.State())

	require.NoError(t, inst.Fire(context.Background(), "next", nil))
	assert.Equal(t, "y", inst.State())
	assert.Zero(t, rec.count("b", domain.OutcomeOK))
}

func TestFire_ScriptFaultKeepsState(t *testing.T) {
	def := &domain.Definition{
		ID:          "fault",
		Initial:     "a",
		Transitions: []domain.TransitionSpec{{Name: "go", From: []string{"a"}, To: "b"}},
		Scripts:     domain.Scripts{Enter: map[string]string{"b": `x := fsm.nothing + 1`}},
	}
	m := compile(t, def, okDoer(nil))
	inst := m.New(nil)

	err := inst.Fire(context.Background(), "go", nil)
	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.ActionScript, ae.Type)
	assert.Equal(t, domain.FailureConfig, ae.Kind)
	assert.Equal(t, "a", inst.State())
}

func TestFire_ScriptKeepsUntouchedFieldTypes(t *testing.T) {
	def := &domain.Definition{
		ID:          "typed",
		Initial:     "a",
		Transitions: []domain.TransitionSpec{{Name: "go", From: []string{"a"}, To: "b"}},
		Scripts:     domain.Scripts{Transition: map[string]string{"go": `fsm.visits = fsm.retries + 1`}},
	}
	inst := compile(t, def, okDoer(nil)).New(map[string]any{"retries": 2, "callerId": "555"})

	require.NoError(t, inst.Fire(context.Background(), "go", nil))

	fields := inst.Fields()
	assert.Equal(t, 2, fields["retries"])
	assert.Equal(t, "555", fields["callerId"])
	assert.Equal(t, int64(3), fields["visits"])
}

func TestFire_ScriptCallsExternalAPI(t *testing.T) {
	def := ivr()
	def.Scripts.Transition = map[string]string{"startCall": `fsm.greeting = "hi " + call("customer").name`}
	m := compile(t, def, okDoer(map[string]any{"name": "Ada"}))
	inst := m.New(nil)

	require.NoError(t, inst.Fire(context.Background(), "startCall", nil))
	assert.Equal(t, "hi Ada", inst.Fields()["greeting"])
}

func TestFire_FollowUpLimit(t *testing.T) {
	def := &domain.Definition{
		ID:      "loop",
		Initial: "a",
		Transitions: []domain.TransitionSpec{
			{Name: "ping", From: []string{"a", "b"}, To: "b", Actions: []domain.Action{{
				Type:      domain.ActionExternalAPI,
				Request:   &domain.RequestRef{Inline: &domain.HTTPTemplate{URL: "http://x"}},
				OnSuccess: "ping",
			}}},
		},
	}
	calls := 0
	doer := doerFunc(func(context.Context, ports.HTTPRequest) (*ports.HTTPResponse, error) {
		calls++
		return &ports.HTTPResponse{Status: 200}, nil
	})
	m := compile(t, def, doer, machine.WithMaxFollowUps(3))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.New(nil).Fire(ctx, "ping", nil))
	assert.Equal(t, 4, calls)
}

func TestCompile_ValidationErrors(t *testing.T) {
	def := &domain.Definition{
		Transitions: []domain.TransitionSpec{
			{Name: "go", From: []string{"a"}, To: "b", Actions: []domain.Action{
				{Type: "eval"},
				{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Name: "missing"}},
				{Type: domain.ActionControl, Operation: "getBridges"},
				{Type: domain.ActionSet, Field: "state"},
			}},
			{Name: "go", From: []string{domain.Wildcard}, To: "c"},
			{Name: "", From: nil, To: ""},
		},
		Scripts: domain.Scripts{Enter: map[string]string{"nowhere": "x := 1"}},
	}

	_, err := machine.NewCompiler().Compile(def)
	require.ErrorIs(t, err, domain.ErrInvalidDefinition)

	var verrs *domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	msg := err.Error()
	for _, want := range []string{
		`"id"`, `"initial"`, "unknown action type", "unknown external API",
		"reserved", "ambiguous", `transitions[2].name`, `transitions[2].from`, "unknown state",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestFire_UnsupportedOperationFailsWhenRun(t *testing.T) {
	def := &domain.Definition{
		ID:      "bridges",
		Initial: "main_menu",
		Transitions: []domain.TransitionSpec{
			{Name: "input_1", From: []string{"main_menu"}, To: "sales"},
			{Name: "input_2", From: []string{"main_menu"}, To: "bridged", Actions: []domain.Action{
				{Type: domain.ActionControl, Operation: "getBridges"},
			}},
		},
	}
	m := compile(t, def, okDoer(nil))

	inst := m.New(nil)
	require.NoError(t, inst.Fire(context.Background(), "input_1", nil))
	assert.Equal(t, "sales", inst.State())

	inst = m.New(nil)
	err := inst.Fire(context.Background(), "input_2", nil)
	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.FailureConfig, ae.Kind)
	assert.ErrorContains(t, err, "Unsupported ARI operation: getBridges")
	assert.Equal(t, "main_menu", inst.State())
}

func TestCompile_Scripts(t *testing.T) {
	def := &domain.Definition{
		ID:          "s",
		Initial:     "a",
		Transitions: []domain.TransitionSpec{{Name: "go", From: []string{"a"}, To: "b"}},
		Scripts:     domain.Scripts{Transition: map[string]string{"go": "fsm.x = "}},
	}
	_, err := machine.NewCompiler().Compile(def)
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)

	def.Scripts.Transition["go"] = "fsm.x = 1"
	_, err = machine.NewCompiler(machine.WithScripts(false, script.Options{})).Compile(def)
	assert.ErrorIs(t, err, machine.ErrScriptsDisabled)
}

func TestMachine_StaticViews(t *testing.T) {
	m := compile(t, ivr(), okDoer(nil))

	def := m.Definition()
	for _, tr := range def.Transitions {
		assert.Empty(t, tr.Actions)
	}
	assert.Empty(t, def.States)
	assert.True(t, m.Hook(machine.HookKey{Phase: machine.PhaseEnter, Name: "lookup"}))
	assert.False(t, m.Hook(machine.HookKey{Phase: machine.PhaseLeave, Name: "lookup"}))

	g := m.Graph()
	wildcard := 0
	for _, e := range g.Edges {
		if e.Name == "disconnect" {
			wildcard++
			assert.Equal(t, "call_ended", e.To)
		}
	}
	assert.Equal(t, len(m.States()), wildcard)

	dot := m.DOT()
	assert.True(t, strings.HasPrefix(dot, `digraph "ivr_demo" {`))
	assert.Contains(t, dot, `"none" -> "new_call" [label="init"];`)
	assert.Contains(t, dot, `"main_menu" -> "lookup" [label="input_1"];`)
	assert.Contains(t, dot, `tooltip="onEntry"`)
}
