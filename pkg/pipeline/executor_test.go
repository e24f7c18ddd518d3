package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/pipeline"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lc = domain.Lifecycle{Transition: "lookup", From: "menu", To: "lookup"}

func TestRun_ExternalNamedRequest(t *testing.T) {
	target := newTarget()
	target.apis["customer"] = domain.HTTPTemplate{
		URL:     "https://crm.local/customers/{{fsm.callerId}}?digit={{payload.digit}}",
		Method:  "post",
		Headers: map[string]string{"X-Channel": "{{fsm.channelId}}"},
		Body:    map[string]any{"transition": "{{event.transition}}"},
		Timeout: 1500,
	}
	doer := &fakeHTTP{resp: &ports.HTTPResponse{Status: 200, Body: map[string]any{"name": "Ada"}}}
	exec := pipeline.NewExecutor(pipeline.WithHTTP(doer))

	err := exec.Run(context.Background(), []domain.Action{{
		Type:            domain.ActionExternalAPI,
		Request:         &domain.RequestRef{Name: "customer"},
		StoreResponseAs: "customer",
		OnSuccess:       "found",
		OnFailure:       "retry",
	}}, target, lc, map[string]any{"digit": "7"})
	require.NoError(t, err)

	require.Len(t, doer.requests, 1)
	req := doer.requests[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://crm.local/customers/5551234?digit=7", req.URL)
	assert.Equal(t, "ch-1", req.Headers["X-Channel"])
	assert.Equal(t, map[string]any{"transition": "lookup"}, req.Body)
	assert.Equal(t, 1500*time.Millisecond, req.Timeout)

	assert.Equal(t, map[string]any{"name": "Ada"}, target.fields["customer"])
	require.Len(t, target.deferred, 1)
	assert.Equal(t, "found", target.deferred[0].Transition)
	assert.Equal(t, map[string]any{"name": "Ada"}, target.deferred[0].Payload["apiResponse"])
}

func TestRun_ExternalDefaults(t *testing.T) {
	target := newTarget()
	doer := &fakeHTTP{}
	exec := pipeline.NewExecutor(pipeline.WithHTTP(doer), pipeline.WithDefaultTimeout(2*time.Second))

	err := exec.Run(context.Background(), []domain.Action{{
		Type:    domain.ActionExternalAPI,
		Request: &domain.RequestRef{Inline: &domain.HTTPTemplate{URL: "http://x/{{fsm.channelId}}"}},
	}}, target, lc, nil)
	require.NoError(t, err)

	require.Len(t, doer.requests, 1)
	assert.Equal(t, "GET", doer.requests[0].Method)
	assert.Equal(t, "http://x/ch-1", doer.requests[0].URL)
	assert.Equal(t, 2*time.Second, doer.requests[0].Timeout)
	assert.Equal(t, "inline_action", doer.requests[0].Name)
	assert.Empty(t, target.deferred)
}

func TestRun_ExternalFailureDefersAndPropagates(t *testing.T) {
	target := newTarget()
	target.apis["customer"] = domain.HTTPTemplate{URL: "http://crm"}
	doer := &fakeHTTP{err: errBoom}
	exec := pipeline.NewExecutor(pipeline.WithHTTP(doer))

	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Name: "customer"}, OnSuccess: "found", OnFailure: "retry"},
		{Type: domain.ActionSet, Field: "after", Value: "should not run"},
	}, target, lc, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrActionFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, domain.IsExternalFailure(err))
	assert.Contains(t, err.Error(), "External API call customer failed")

	assert.NotContains(t, target.fields, "after")
	require.Len(t, target.deferred, 1)
	assert.Equal(t, "retry", target.deferred[0].Transition)
	assert.Equal(t, "External API call customer failed: boom", target.deferred[0].Payload["apiError"])
}

func TestRun_ExternalUnknownTemplateIsConfigError(t *testing.T) {
	exec := pipeline.NewExecutor(pipeline.WithHTTP(&fakeHTTP{}))
	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Name: "nope"}},
	}, newTarget(), lc, nil)

	var ae *domain.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.FailureConfig, ae.Kind)
	assert.False(t, domain.IsExternalFailure(err))
}

func TestRun_SequentialFieldVisibility(t *testing.T) {
	target := newTarget()
	doer := &fakeHTTP{}
	exec := pipeline.NewExecutor(pipeline.WithHTTP(doer))

	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionSet, Field: "account", Value: map[string]any{"id": "{{payload.digit}}"}},
		{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Inline: &domain.HTTPTemplate{URL: "http://x/{{fsm.account.id}}"}}},
	}, target, lc, map[string]any{"digit": "4"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": "4"}, target.fields["account"])
	assert.Equal(t, "http://x/4", doer.requests[0].URL)
}

func TestRun_SetRejectsReservedFields(t *testing.T) {
	exec := pipeline.NewExecutor()
	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionSet, Field: "state", Value: "hacked"},
	}, newTarget(), lc, nil)
	assert.ErrorIs(t, err, domain.ErrActionFailed)
}

func TestRun_LogNeverFails(t *testing.T) {
	exec := pipeline.NewExecutor()
	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionLog, Message: "caller {{fsm.callerId}}", Level: "nonsense"},
	}, newTarget(), lc, nil)
	assert.NoError(t, err)
}

func TestRun_EmitsActionEvents(t *testing.T) {
	var events []*domain.ActionEvent
	exec := pipeline.NewExecutor(pipeline.WithHooks(domain.LifecycleHooks{
		OnAction: func(_ context.Context, e *domain.ActionEvent) { events = append(events, e) },
	}))

	_ = exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionSet, Field: "a", Value: 1},
		{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Name: "missing"}},
	}, newTarget(), lc, nil)

	require.Len(t, events, 2)
	assert.Equal(t, domain.OutcomeOK, events[0].Outcome)
	assert.Equal(t, domain.OutcomeFailed, events[1].Outcome)
	assert.Equal(t, "ivr_demo", events[1].MachineID)
}

func TestRun_NoHTTPClientIsExternalFailure(t *testing.T) {
	exec := pipeline.NewExecutor()
	err := exec.Run(context.Background(), []domain.Action{
		{Type: domain.ActionExternalAPI, Request: &domain.RequestRef{Inline: &domain.HTTPTemplate{URL: "http://x"}}},
	}, newTarget(), lc, nil)
	assert.True(t, domain.IsExternalFailure(err))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := newTarget()
	err := pipeline.NewExecutor().Run(ctx, []domain.Action{{Type: domain.ActionSet, Field: "a", Value: 1}}, target, lc, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, target.fields, "a")
}
