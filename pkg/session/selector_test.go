package session_test

import (
	"context"
	"testing"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestSelector_Chain(t *testing.T) {
	known := func(_ context.Context, id string) bool {
		return id == "sales_ivr" || id == "support_ivr"
	}
	sel := session.Selector{
		Default:  "fallback_ivr",
		Variable: "FSM_ID",
		Routes: map[string]string{
			"from-internal/200": "route_exten",
			"from-internal":     "route_context",
		},
	}
	evt := func(args []string, ctx, exten string) domain.SessionEvent {
		return domain.SessionEvent{SessionID: "ch-1", Args: args, Routing: domain.Routing{Context: ctx, Exten: exten}}
	}

	tests := []struct {
		name string
		evt  domain.SessionEvent
		cc   *fakeControl
		want string
	}{
		{"argument", evt([]string{"sales_ivr"}, "from-internal", "200"), &fakeControl{vars: map[string]string{"FSM_ID": "support_ivr"}}, "sales_ivr"},
		{"unknown argument falls through to variable", evt([]string{"nope"}, "", ""), &fakeControl{vars: map[string]string{"FSM_ID": "support_ivr"}}, "support_ivr"},
		{"unknown variable falls through to exten route", evt(nil, "from-internal", "200"), &fakeControl{vars: map[string]string{"FSM_ID": "nope"}}, "route_exten"},
		{"context route", evt(nil, "from-internal", "300"), &fakeControl{}, "route_context"},
		{"default", evt(nil, "other", "1"), &fakeControl{}, "fallback_ivr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sel.Select(context.Background(), tt.evt, tt.cc, known, logging.NewNop())
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, session.DefaultMachine, session.Selector{}.Select(context.Background(), evt(nil, "", ""), nil, known, logging.NewNop()))
}
