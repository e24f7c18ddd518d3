package observability_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	hooks := m.Hooks()
	ctx := context.Background()
	base := domain.EventBase{MachineID: "ivr_demo", Timestamp: time.Now()}

	hooks.OnTransition(ctx, &domain.TransitionEvent{EventBase: base, Transition: "startCall", Outcome: domain.OutcomeOK})
	hooks.OnTransition(ctx, &domain.TransitionEvent{EventBase: base, Transition: "startCall", Outcome: domain.OutcomeOK})
	hooks.OnTransition(ctx, &domain.TransitionEvent{EventBase: base, Transition: "input_9", Outcome: domain.OutcomeRefused})
	hooks.OnAction(ctx, &domain.ActionEvent{EventBase: base, ActionType: domain.ActionExternalAPI, Outcome: domain.OutcomeFailed, Duration: 20 * time.Millisecond})
	hooks.OnSessionStart(ctx, &domain.SessionLifecycleEvent{EventBase: base, SessionID: "a"})
	hooks.OnSessionStart(ctx, &domain.SessionLifecycleEvent{EventBase: base, SessionID: "b"})
	hooks.OnSessionEnd(ctx, &domain.SessionLifecycleEvent{EventBase: base, SessionID: "a"})
	hooks.OnLoad(ctx, &domain.LoadEvent{EventBase: base, Outcome: domain.OutcomeFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ivr_demo", "startCall", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ivr_demo", "input_9", "refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ActionDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `switchboard_transitions_total{machine="ivr_demo",outcome="ok",transition="startCall"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	hooks := observability.LogHooks(logger)

	hooks.OnTransition(context.Background(), &domain.TransitionEvent{
		EventBase:  domain.EventBase{MachineID: "ivr_demo"},
		Transition: "input_9",
		Outcome:    domain.OutcomeRefused,
	})
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "transition=input_9")
}
