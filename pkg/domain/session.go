package domain

// SessionEventKind identifies what happened to an external session.
type SessionEventKind string

const (
	SessionStart SessionEventKind = "start"
	SessionInput SessionEventKind = "input"
	SessionEnd   SessionEventKind = "end"
)

// Routing is the dialplan position a session entered the application from.
type Routing struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int    `json:"priority"`
}

// SessionEvent is produced by the call-control transport and consumed by the session router.
type SessionEvent struct {
	Kind       SessionEventKind `json:"kind"`
	SessionID  string           `json:"session_id"`
	Originator string           `json:"originator,omitempty"`
	Routing    Routing          `json:"routing"`
	Args       []string         `json:"args,omitempty"`
	Input      string           `json:"input,omitempty"`
	Timestamp  string           `json:"timestamp,omitempty"`
	Raw        map[string]any   `json:"raw,omitempty"`
}

// SeedData returns the fields a new instance is seeded with for this session.
func (e SessionEvent) SeedData() map[string]any {
	return map[string]any{
		"channelId": e.SessionID,
		"callerId":  e.Originator,
		"dialplan": map[string]any{
			"context":  e.Routing.Context,
			"exten":    e.Routing.Exten,
			"priority": e.Routing.Priority,
		},
	}
}

// SessionInfo is a read-only snapshot of one bound session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	MachineID string `json:"machine_id"`
	State     string `json:"state"`
}
