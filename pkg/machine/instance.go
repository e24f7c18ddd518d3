package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/aretw0/switchboard/pkg/domain"
)

// SessionField is the instance field holding the bound session identifier.
const SessionField = "channelId"

// ErrUnknownState is returned by SetState for a state the machine does not declare.
var ErrUnknownState = errors.New("unknown state")

// InstanceOption configures an Instance.
type InstanceOption func(*Instance)

// WithInstanceID replaces the generated instance identifier.
func WithInstanceID(id string) InstanceOption {
	return func(i *Instance) {
		if id != "" {
			i.id = id
		}
	}
}

// WithInstanceLogger sets the instance logger.
func WithInstanceLogger(logger *slog.Logger) InstanceOption {
	return func(i *Instance) {
		i.logger = logger
	}
}

// Instance is one running machine. Only one transition chain runs at a time; a second
// Fire while a chain is in flight fails with *domain.PendingTransitionError.
type Instance struct {
	id      string
	machine *Machine
	logger  *slog.Logger

	mu        sync.Mutex
	state     string
	fields    map[string]any
	pending   string
	queue     followUps
	discarded bool
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Machine returns the compiled machine of the instance.
func (i *Instance) Machine() *Machine { return i.machine }

// State returns the current state.
func (i *Instance) State() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Fields returns a copy of the instance fields.
func (i *Instance) Fields() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return maps.Clone(i.fields)
}

// SessionID returns the bound session identifier, or "".
func (i *Instance) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, _ := i.fields[SessionField].(string)
	return id
}

// Can reports whether name is executable from the current state.
func (i *Instance) Can(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.machine.lookup(i.state, name)
	return ok
}

// Transitions lists the transitions executable from the current state.
func (i *Instance) Transitions() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.machine.available(i.state)
}

// Terminal reports whether the instance sits in a terminal state.
func (i *Instance) Terminal() bool {
	return i.machine.IsTerminal(i.State())
}

// SetState moves the instance to state without running any hook.
func (i *Instance) SetState(state string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending != "" {
		return &domain.PendingTransitionError{Transition: "setState", Pending: i.pending}
	}
	for _, s := range i.machine.states {
		if s == state {
			i.state = state
			return nil
		}
	}
	return fmt.Errorf("%w %q for machine %q", ErrUnknownState, state, i.machine.id)
}

// Discard detaches the instance. Queued and future follow-ups are dropped; a transition
// already running finishes its hooks.
func (i *Instance) Discard() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.discarded = true
	if n := i.queue.len(); n > 0 {
		i.logger.Debug("Dropping follow-ups of discarded instance", "count", n)
	}
	i.queue.reset()
}

// Discarded reports whether Discard was called.
func (i *Instance) Discarded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.discarded
}

// Fire runs transition name with payload and drains the follow-ups it schedules.
// The returned error belongs to the named transition; follow-up failures are logged.
func (i *Instance) Fire(ctx context.Context, name string, payload map[string]any) error {
	i.mu.Lock()
	if i.pending != "" {
		pending := i.pending
		state := i.state
		i.mu.Unlock()
		err := &domain.PendingTransitionError{Transition: name, Pending: pending}
		i.emit(ctx, name, state, "", domain.OutcomeConflict, err, false, time.Now())
		return err
	}
	e, ok := i.machine.lookup(i.state, name)
	if !ok {
		err := &domain.TransitionRefusedError{
			Transition: name,
			State:      i.state,
			Available:  i.machine.available(i.state),
		}
		state := i.state
		i.mu.Unlock()
		i.emit(ctx, name, state, "", domain.OutcomeRefused, err, false, time.Now())
		return err
	}
	i.pending = name
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.pending = ""
		i.mu.Unlock()
	}()

	err := i.run(ctx, e, payload, false)
	i.drain(ctx)
	return err
}

// run executes one edge: leave, transition, enter. State advances only when all succeed.
func (i *Instance) run(ctx context.Context, e *edge, payload map[string]any, followUp bool) error {
	start := time.Now()
	from := i.State()
	lc := domain.Lifecycle{Transition: e.spec.Name, From: from, To: e.spec.To}
	t := &target{inst: i}
	exec := i.machine.executor

	chain := []*hook{e.hook}
	if from != e.spec.To {
		chain = []*hook{
			i.machine.stateHooks[HookKey{Phase: PhaseLeave, Name: from}],
			e.hook,
			i.machine.stateHooks[HookKey{Phase: PhaseEnter, Name: e.spec.To}],
		}
	}

	for _, h := range chain {
		if err := h.run(ctx, exec, t, lc, payload); err != nil {
			i.logger.Warn("Transition failed",
				"transition", lc.Transition,
				"state", from,
				"hook", h.key.String(),
				"err", err,
			)
			i.emit(ctx, lc.Transition, from, lc.To, domain.OutcomeFailed, err, followUp, start)
			return fmt.Errorf("transition %q from %q: %w", lc.Transition, from, err)
		}
	}

	i.mu.Lock()
	i.state = e.spec.To
	i.mu.Unlock()

	i.logger.Debug("Transition completed", "transition", lc.Transition, "from", from, "to", lc.To, "follow_up", followUp)
	i.emit(ctx, lc.Transition, from, lc.To, domain.OutcomeOK, nil, followUp, start)
	return nil
}

// drain fires queued follow-ups in order. Each is re-checked against the state it finds.
func (i *Instance) drain(ctx context.Context) {
	for n := 0; ; n++ {
		i.mu.Lock()
		if i.discarded {
			i.queue.reset()
			i.mu.Unlock()
			return
		}
		f, ok := i.queue.pop()
		if !ok {
			i.mu.Unlock()
			return
		}
		if n >= i.machine.maxFollowUps {
			dropped := i.queue.len() + 1
			i.queue.reset()
			i.mu.Unlock()
			i.logger.Warn("Follow-up limit reached, dropping the rest", "limit", i.machine.maxFollowUps, "dropped", dropped)
			return
		}
		if err := ctx.Err(); err != nil {
			dropped := i.queue.len() + 1
			i.queue.reset()
			i.mu.Unlock()
			i.logger.Warn("Context done, dropping follow-ups", "transition", f.Transition, "dropped", dropped, "err", err)
			return
		}
		e, ok := i.machine.lookup(i.state, f.Transition)
		state := i.state
		i.pending = f.Transition
		i.mu.Unlock()

		if !ok {
			i.logger.Debug("Skipping follow-up not executable from current state", "transition", f.Transition, "state", state)
			continue
		}
		if err := i.run(ctx, e, f.Payload, true); err != nil {
			i.logger.Warn("Follow-up transition failed", "transition", f.Transition, "err", err)
		}
	}
}

func (i *Instance) schedule(f domain.FollowUp) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.discarded {
		i.logger.Debug("Ignoring follow-up for discarded instance", "transition", f.Transition)
		return
	}
	i.queue.push(f)
}

func (i *Instance) emit(ctx context.Context, name, from, to string, outcome domain.Outcome, err error, followUp bool, start time.Time) {
	if i.machine.hooks.OnTransition == nil {
		return
	}
	evt := &domain.TransitionEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventTransition,
			MachineID: i.machine.id,
		},
		InstanceID: i.id,
		SessionID:  i.SessionID(),
		Transition: name,
		From:       from,
		To:         to,
		Outcome:    outcome,
		FollowUp:   followUp,
		Duration:   time.Since(start),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	i.machine.hooks.OnTransition(ctx, evt)
}

// target is the pipeline view of an instance.
type target struct {
	inst *Instance
}

func (t *target) MachineID() string { return t.inst.machine.id }

func (t *target) SessionID() string { return t.inst.SessionID() }

func (t *target) Snapshot() map[string]any {
	t.inst.mu.Lock()
	defer t.inst.mu.Unlock()
	out := make(map[string]any, len(t.inst.fields)+2)
	maps.Copy(out, t.inst.fields)
	out["state"] = t.inst.state
	out["id"] = t.inst.machine.id
	return out
}

func (t *target) SetField(name string, value any) {
	if name == "state" || name == "id" {
		return
	}
	t.inst.mu.Lock()
	defer t.inst.mu.Unlock()
	t.inst.fields[name] = value
}

func (t *target) ExternalAPI(name string) (domain.HTTPTemplate, bool) {
	tmpl, ok := t.inst.machine.externalAPIs[name]
	return tmpl, ok
}

func (t *target) ControlAction(name string) (domain.ControlTemplate, bool) {
	tmpl, ok := t.inst.machine.ariActions[name]
	return tmpl, ok
}

func (t *target) Defer(f domain.FollowUp) { t.inst.schedule(f) }
