package pipeline_test

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
)

type fakeTarget struct {
	fields   map[string]any
	apis     map[string]domain.HTTPTemplate
	controls map[string]domain.ControlTemplate
	deferred []domain.FollowUp
}

func newTarget() *fakeTarget {
	return &fakeTarget{
		fields: map[string]any{"channelId": "ch-1", "callerId": "5551234"},
		apis:   map[string]domain.HTTPTemplate{},
	}
}

func (t *fakeTarget) MachineID() string { return "ivr_demo" }

func (t *fakeTarget) SessionID() string {
	id, _ := t.fields["channelId"].(string)
	return id
}

func (t *fakeTarget) Snapshot() map[string]any {
	out := make(map[string]any, len(t.fields)+2)
	for k, v := range t.fields {
		out[k] = v
	}
	out["state"] = "menu"
	out["id"] = "ivr_demo"
	return out
}

func (t *fakeTarget) SetField(name string, value any) { t.fields[name] = value }

func (t *fakeTarget) ExternalAPI(name string) (domain.HTTPTemplate, bool) {
	tmpl, ok := t.apis[name]
	return tmpl, ok
}

func (t *fakeTarget) ControlAction(name string) (domain.ControlTemplate, bool) {
	tmpl, ok := t.controls[name]
	return tmpl, ok
}

func (t *fakeTarget) Defer(f domain.FollowUp) { t.deferred = append(t.deferred, f) }

type fakeHTTP struct {
	mu       sync.Mutex
	requests []ports.HTTPRequest
	resp     *ports.HTTPResponse
	err      error
}

func (f *fakeHTTP) Do(_ context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return &ports.HTTPResponse{Status: 200}, nil
	}
	return f.resp, nil
}

type controlCall struct {
	Op        string
	ChannelID string
	Args      []string
}

type fakeControl struct {
	calls     []controlCall
	err       error
	originate ports.OriginateRequest
}

func (f *fakeControl) record(op, ch string, args ...string) error {
	f.calls = append(f.calls, controlCall{Op: op, ChannelID: ch, Args: args})
	return f.err
}

func (f *fakeControl) Answer(_ context.Context, ch string) error { return f.record("answer", ch) }
func (f *fakeControl) Hangup(_ context.Context, ch string) error { return f.record("hangup", ch) }

func (f *fakeControl) Play(_ context.Context, ch, media string) (string, error) {
	if err := f.record("play", ch, media); err != nil {
		return "", err
	}
	return "pb-1", nil
}

func (f *fakeControl) GetVariable(_ context.Context, ch, variable string) (string, error) {
	if err := f.record("getVariable", ch, variable); err != nil {
		return "", err
	}
	return "value-of-" + variable, nil
}

func (f *fakeControl) SetVariable(_ context.Context, ch, variable, value string) error {
	return f.record("setVariable", ch, variable, value)
}

func (f *fakeControl) Originate(_ context.Context, req ports.OriginateRequest) (*ports.Channel, error) {
	f.originate = req
	if err := f.record("originate", "", req.Endpoint); err != nil {
		return nil, err
	}
	return &ports.Channel{ID: "ch-new", Name: "PJSIP/100-0001", State: "Down"}, nil
}

var errBoom = errors.New("boom")
