package session

import (
	"context"
	"log/slog"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
)

// DefaultMachine drives sessions no other rule assigns.
const DefaultMachine = "ari_example_ivr"

// Selector picks the machine that drives a new session. Rules are tried in order:
//
//  1. the first application argument, when it names a known machine
//  2. the channel variable named by Variable, when set and known
//  3. Routes["context/exten"], then Routes["context"]
//  4. Default
type Selector struct {
	Default  string
	Variable string
	Routes   map[string]string
}

// Select returns the machine id for evt. known reports whether an id can be loaded; cc may be nil.
func (s Selector) Select(ctx context.Context, evt domain.SessionEvent, cc ports.CallControl, known func(context.Context, string) bool, logger *slog.Logger) string {
	if len(evt.Args) > 0 && evt.Args[0] != "" {
		if known(ctx, evt.Args[0]) {
			return evt.Args[0]
		}
		logger.Debug("Ignoring unknown machine from application arguments", "session_id", evt.SessionID, "machine_id", evt.Args[0])
	}

	if s.Variable != "" && cc != nil {
		id, err := cc.GetVariable(ctx, evt.SessionID, s.Variable)
		switch {
		case err != nil:
			logger.Debug("Machine variable unavailable", "session_id", evt.SessionID, "variable", s.Variable, "err", err)
		case id != "" && known(ctx, id):
			return id
		}
	}

	if id, ok := s.Routes[evt.Routing.Context+"/"+evt.Routing.Exten]; ok {
		return id
	}
	if id, ok := s.Routes[evt.Routing.Context]; ok {
		return id
	}

	if s.Default != "" {
		return s.Default
	}
	return DefaultMachine
}
