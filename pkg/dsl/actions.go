package dsl

import "github.com/aretw0/switchboard/pkg/domain"

// Call invokes the named external API.
func Call(name string) domain.Action {
	return domain.Action{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Name: name}}
}

// Request invokes an inline HTTP request.
func Request(tmpl domain.HTTPTemplate) domain.Action {
	return domain.Action{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Inline: &tmpl}}
}

// ARI runs a call-control operation.
func ARI(operation string, params map[string]any) domain.Action {
	return domain.Action{Type: domain.ActionControl, Operation: operation, Params: params}
}

// ARIAction runs a call-control template declared with Builder.ARIAction.
func ARIAction(name string) domain.Action {
	return domain.Action{Type: domain.ActionControl, Template: name}
}

// Set assigns a templated value to an instance field.
func Set(field string, value any) domain.Action {
	return domain.Action{Type: domain.ActionSet, Field: field, Value: value}
}

// Log emits a templated log line.
func Log(level, message string) domain.Action {
	return domain.Action{Type: domain.ActionLog, Level: level, Message: message}
}

// Store keeps the response of an externalApi or ari action under field.
func Store(a domain.Action, field string) domain.Action {
	a.StoreResponseAs = field
	return a
}

// Branch fires onSuccess or onFailure after an externalApi or ari action settles.
func Branch(a domain.Action, onSuccess, onFailure string) domain.Action {
	a.OnSuccess = onSuccess
	a.OnFailure = onFailure
	return a
}
