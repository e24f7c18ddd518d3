package ports

import "context"

// OriginateRequest describes a new outbound session.
type OriginateRequest struct {
	Endpoint  string
	Context   string
	Extension string
	Priority  int
	CallerID  string
	AppArgs   string
	TimeoutMS int
}

// Channel is the minimal description of a session returned by origination.
type Channel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// CallControl is the call-control collaborator. Every method fails immediately with
// domain.ErrControlUnavailable while the underlying connection is down.
type CallControl interface {
	Answer(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, media string) (playbackID string, err error)
	GetVariable(ctx context.Context, channelID, variable string) (string, error)
	SetVariable(ctx context.Context, channelID, variable, value string) error
	Originate(ctx context.Context, req OriginateRequest) (*Channel, error)
}
