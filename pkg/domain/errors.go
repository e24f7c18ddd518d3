package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDefinitionNotFound is returned when no definition exists for an identifier.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrInvalidDefinition is returned when a definition is malformed or misses a required field.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrTransitionRefused is returned when the current state does not permit a transition.
	ErrTransitionRefused = errors.New("transition refused")

	// ErrPendingTransition is returned when a transition is requested while another is in flight.
	ErrPendingTransition = errors.New("pending transition")

	// ErrActionFailed is returned when a hook action fails and aborts its transition.
	ErrActionFailed = errors.New("action failed")

	// ErrSessionBindingMissing is returned for events that reference an unknown session.
	ErrSessionBindingMissing = errors.New("session binding missing")

	// ErrControlUnavailable is returned when the call-control handle is not connected.
	ErrControlUnavailable = errors.New("call control unavailable")

	// ErrReadOnlyStore is returned when a mutation is attempted on a read-only definition store.
	ErrReadOnlyStore = errors.New("definition store is read-only")
)

// DefinitionError reports a missing or malformed definition.
type DefinitionError struct {
	ID     string
	Field  string
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("definition")
	if e.ID != "" {
		fmt.Fprintf(&b, " %q", e.ID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// Is matches ErrInvalidDefinition unless the wrapped cause says otherwise.
func (e *DefinitionError) Is(target error) bool {
	if target == ErrInvalidDefinition {
		return !errors.Is(e.Err, ErrDefinitionNotFound)
	}
	return false
}

// NotFound builds the DefinitionError for an unknown identifier.
func NotFound(id string) error {
	return &DefinitionError{ID: id, Err: ErrDefinitionNotFound}
}

// TransitionRefusedError is a normal negative result: the transition is not executable
// from the current state.
type TransitionRefusedError struct {
	Transition string
	State      string
	Available  []string
}

func (e *TransitionRefusedError) Error() string {
	return fmt.Sprintf("transition %q is not possible from state %q", e.Transition, e.State)
}

func (e *TransitionRefusedError) Is(target error) bool { return target == ErrTransitionRefused }

// PendingTransitionError reports a transition requested while another is still settling.
type PendingTransitionError struct {
	Transition string
	Pending    string
}

func (e *PendingTransitionError) Error() string {
	return fmt.Sprintf("transition %q requested while %q is still pending", e.Transition, e.Pending)
}

func (e *PendingTransitionError) Is(target error) bool { return target == ErrPendingTransition }

// FailureKind separates failed dependencies from configuration mistakes.
type FailureKind string

const (
	FailureExternal FailureKind = "external"
	FailureConfig   FailureKind = "config"
)

// ActionError aborts the transition whose hook ran the action.
type ActionError struct {
	Type ActionType
	Name string
	Kind FailureKind
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action %q failed (%s): %v", e.Type, e.Name, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }

// External reports whether the failure came from an external dependency.
func (e *ActionError) External() bool { return e.Kind == FailureExternal }

// IsExternalFailure reports whether err carries an ActionError caused by a failed dependency.
func IsExternalFailure(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae) && ae.External()
}

// ValidationErrors aggregates every problem found in one definition.
type ValidationErrors struct {
	ID     string
	Errors []error
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("definition %q: %d validation errors:\n", e.ID, len(e.Errors))
	for i, err := range e.Errors {
		msg += fmt.Sprintf("  %d. %s\n", i+1, err.Error())
	}
	return msg
}

func (e *ValidationErrors) Is(target error) bool { return target == ErrInvalidDefinition }

// Unwrap exposes every aggregated error to errors.Is and errors.As.
func (e *ValidationErrors) Unwrap() []error { return e.Errors }
