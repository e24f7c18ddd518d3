package domain

// Lifecycle is the record handed to every hook of a transition.
type Lifecycle struct {
	Transition string `json:"transition"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Map exposes the record to the template resolver and scripts.
func (l Lifecycle) Map() map[string]any {
	return map[string]any{
		"transition": l.Transition,
		"from":       l.From,
		"to":         l.To,
	}
}

// FollowUp is a transition deferred until the current one settles.
type FollowUp struct {
	Transition string
	Payload    map[string]any
}
