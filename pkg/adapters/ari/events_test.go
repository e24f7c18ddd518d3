package ari_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/switchboard/pkg/adapters/ari"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stasisStart = `{
  "type": "StasisStart",
  "timestamp": "2024-05-01T10:00:00.000+0000",
  "args": ["ivr_demo"],
  "channel": {
    "id": "ch-1",
    "name": "PJSIP/100-00000001",
    "state": "Ring",
    "caller": {"name": "Alice", "number": "5551234"},
    "dialplan": {"context": "from-internal", "exten": "700", "priority": 3}
  }
}`

func TestDecode(t *testing.T) {
	t.Run("StasisStart", func(t *testing.T) {
		evt, ok, err := ari.Decode([]byte(stasisStart))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.SessionStart, evt.Kind)
		assert.Equal(t, "ch-1", evt.SessionID)
		assert.Equal(t, "5551234", evt.Originator)
		assert.Equal(t, domain.Routing{Context: "from-internal", Exten: "700", Priority: 3}, evt.Routing)
		assert.Equal(t, []string{"ivr_demo"}, evt.Args)
		assert.Equal(t, "StasisStart", evt.Raw["type"])
	})

	t.Run("ChannelDtmfReceived", func(t *testing.T) {
		evt, ok, err := ari.Decode([]byte(`{"type":"ChannelDtmfReceived","digit":"5","channel":{"id":"ch-1"}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.SessionInput, evt.Kind)
		assert.Equal(t, "5", evt.Input)
	})

	t.Run("StasisEnd", func(t *testing.T) {
		evt, ok, err := ari.Decode([]byte(`{"type":"StasisEnd","channel":{"id":"ch-1"}}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.SessionEnd, evt.Kind)
	})

	t.Run("string priority", func(t *testing.T) {
		evt, _, err := ari.Decode([]byte(`{"type":"StasisStart","channel":{"id":"c","dialplan":{"priority":"7"}}}`))
		require.NoError(t, err)
		assert.Equal(t, 7, evt.Routing.Priority)
	})

	t.Run("ignored type", func(t *testing.T) {
		_, ok, err := ari.Decode([]byte(`{"type":"PlaybackFinished","playback":{"id":"p"}}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing channel", func(t *testing.T) {
		_, _, err := ari.Decode([]byte(`{"type":"StasisEnd"}`))
		assert.ErrorIs(t, err, ari.ErrNoChannel)
	})

	t.Run("malformed", func(t *testing.T) {
		_, _, err := ari.Decode([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestEventSource_StreamsAndReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "asterisk" || pass != "secret" || r.URL.Query().Get("app") != "switchboard" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PlaybackStarted"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(stasisStart))
	}))
	defer srv.Close()

	client := ari.NewClient(ari.Config{URL: srv.URL, Username: "asterisk", Password: "secret", App: "switchboard"})
	source := ari.NewEventSource(client, ari.WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.SessionEvent, 8)
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, events) }()

	for i := 0; i < 2; i++ {
		select {
		case evt := <-events:
			assert.Equal(t, "ch-1", evt.SessionID)
		case <-time.After(3 * time.Second):
			t.Fatal("no event received")
		}
	}
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, client.Available())
}
