package domain

// ActionType tags the Action variant.
type ActionType string

const (
	ActionExternalAPI ActionType = "externalApi"
	ActionControl     ActionType = "ari"
	ActionSet         ActionType = "set"
	ActionLog         ActionType = "log"

	// ActionScript labels inline hook scripts in events and errors. It is not a declarable action.
	ActionScript ActionType = "script"
)

// NormalizeActionType maps accepted aliases onto the canonical variant tag.
func NormalizeActionType(t string) (ActionType, bool) {
	switch t {
	case "externalApi", "http", "externalCall":
		return ActionExternalAPI, true
	case "ari", "controlProtocol", "controlProtocolCall":
		return ActionControl, true
	case "set", "assign":
		return ActionSet, true
	case "log":
		return ActionLog, true
	}
	return "", false
}

// RequestRef points at a named entry of Definition.ExternalAPIs or carries an inline request.
type RequestRef struct {
	Name   string        `json:"name,omitempty"`
	Inline *HTTPTemplate `json:"inline,omitempty"`
}

// Label names the request for logs and errors.
func (r RequestRef) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return "inline_action"
}

// Action is a declared side effect attached to a hook.
// Which fields are meaningful depends on Type.
type Action struct {
	Type ActionType `json:"type" mapstructure:"type"`

	// externalApi
	Request *RequestRef `json:"request,omitempty" mapstructure:"request"`

	// ari: either a named template or an inline operation.
	Template  string         `json:"action,omitempty" mapstructure:"action"`
	Operation string         `json:"operation,omitempty" mapstructure:"operation"`
	Params    map[string]any `json:"params,omitempty" mapstructure:"params"`

	// externalApi and ari
	StoreResponseAs string `json:"storeResponseAs,omitempty" mapstructure:"storeResponseAs"`
	OnSuccess       string `json:"onSuccess,omitempty" mapstructure:"onSuccess"`
	OnFailure       string `json:"onFailure,omitempty" mapstructure:"onFailure"`

	// set
	Field string `json:"field,omitempty" mapstructure:"field"`
	Value any    `json:"value,omitempty" mapstructure:"value"`

	// log
	Message string `json:"message,omitempty" mapstructure:"message"`
	Level   string `json:"level,omitempty" mapstructure:"level"`
}

// Name returns a short label used in logs, metrics and errors.
func (a Action) Name() string {
	switch a.Type {
	case ActionExternalAPI:
		if a.Request != nil {
			return a.Request.Label()
		}
	case ActionControl:
		if a.Template != "" {
			return a.Template
		}
		return a.Operation
	case ActionSet:
		return a.Field
	}
	return string(a.Type)
}
