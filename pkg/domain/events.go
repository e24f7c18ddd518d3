package domain

import (
	"context"
	"time"
)

// EventType defines the category of an observability event.
type EventType string

const (
	EventTransition   EventType = "transition"
	EventAction       EventType = "action"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventLoad         EventType = "definition_load"
)

// Outcome labels how a transition or action ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRefused  Outcome = "refused"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	MachineID string    `json:"machine_id"`
}

// TransitionEvent is emitted once per fired transition, including deferred follow-ups.
type TransitionEvent struct {
	EventBase
	InstanceID string        `json:"instance_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Transition string        `json:"transition"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	FollowUp   bool          `json:"follow_up,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ActionEvent is emitted after every executed action.
type ActionEvent struct {
	EventBase
	ActionType ActionType    `json:"action_type"`
	Name       string        `json:"name"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration"`
}

// SessionLifecycleEvent is emitted when a session binding is created or removed.
type SessionLifecycleEvent struct {
	EventBase
	SessionID string `json:"session_id"`
}

// LoadEvent is emitted when the registry loads or fails to load a definition.
type LoadEvent struct {
	EventBase
	Outcome Outcome `json:"outcome"`
}

// LifecycleHooks defines callbacks for runtime observability. Nil fields are skipped.
type LifecycleHooks struct {
	OnTransition   func(context.Context, *TransitionEvent)
	OnAction       func(context.Context, *ActionEvent)
	OnSessionStart func(context.Context, *SessionLifecycleEvent)
	OnSessionEnd   func(context.Context, *SessionLifecycleEvent)
	OnLoad         func(context.Context, *LoadEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTransition:   chain(h.OnTransition, other.OnTransition),
		OnAction:       chain(h.OnAction, other.OnAction),
		OnSessionStart: chain(h.OnSessionStart, other.OnSessionStart),
		OnSessionEnd:   chain(h.OnSessionEnd, other.OnSessionEnd),
		OnLoad:         chain(h.OnLoad, other.OnLoad),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
