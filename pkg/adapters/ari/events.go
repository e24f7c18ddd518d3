package ari

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay is the pause between websocket connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// EventSource streams session events from the ARI websocket of one application.
type EventSource struct {
	client *Client
	dialer *websocket.Dialer
	delay  time.Duration
	logger *slog.Logger
}

type SourceOption func(*EventSource)

func WithReconnectDelay(d time.Duration) SourceOption {
	return func(s *EventSource) {
		if d > 0 {
			s.delay = d
		}
	}
}

func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *EventSource) {
		s.logger = logger
	}
}

func WithDialer(d *websocket.Dialer) SourceOption {
	return func(s *EventSource) {
		s.dialer = d
	}
}

// NewEventSource creates a source sharing the client's connection details. The source
// drives the client's availability flag.
func NewEventSource(client *Client, opts ...SourceOption) *EventSource {
	s := &EventSource{
		client: client,
		dialer: websocket.DefaultDialer,
		delay:  DefaultReconnectDelay,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects, forwards events to out, and reconnects after every failure until ctx is
// done. It returns ctx.Err().
func (s *EventSource) Run(ctx context.Context, out chan<- domain.SessionEvent) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(s.delay), ctx)
	err := backoff.RetryNotify(func() error {
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.logger.Warn("ARI connection lost, reconnecting", "err", err, "retry_in", wait)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *EventSource) url() (string, error) {
	u, err := url.Parse(s.client.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse ari url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ari/events"
	u.RawQuery = url.Values{"app": {s.client.cfg.App}, "subscribeAll": {"false"}}.Encode()
	return u.String(), nil
}

// session holds one websocket connection open until it fails.
func (s *EventSource) session(ctx context.Context, out chan<- domain.SessionEvent) error {
	wsURL, err := s.url()
	if err != nil {
		return backoff.Permanent(err)
	}
	creds := s.client.cfg.Username + ":" + s.client.cfg.Password
	header := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(creds))}}

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial ari events: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial ari events: %w", err)
	}
	defer conn.Close()

	s.client.SetAvailable(true)
	defer s.client.SetAvailable(false)
	s.logger.Info("Connected to ARI", "app", s.client.cfg.App)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read ari events: %w", err)
		}
		evt, ok, err := Decode(data)
		if err != nil {
			s.logger.Warn("Dropping malformed ARI event", "err", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type wireChannel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Name   string `json:"name"`
		Number string `json:"number"`
	} `json:"caller"`
	Dialplan struct {
		Context  string          `json:"context"`
		Exten    string          `json:"exten"`
		Priority json.RawMessage `json:"priority"`
	} `json:"dialplan"`
}

type wireEvent struct {
	Type      string       `json:"type"`
	Timestamp string       `json:"timestamp"`
	Args      []string     `json:"args"`
	Digit     string       `json:"digit"`
	Channel   *wireChannel `json:"channel"`
}

// ErrNoChannel is returned for a session event that carries no channel.
var ErrNoChannel = errors.New("ari event has no channel")

// Decode maps one ARI websocket message onto a session event. ok is false for event types the
// router does not consume.
func Decode(data []byte) (evt domain.SessionEvent, ok bool, err error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return evt, false, fmt.Errorf("decode ari event: %w", err)
	}

	var kind domain.SessionEventKind
	switch w.Type {
	case "StasisStart":
		kind = domain.SessionStart
	case "StasisEnd":
		kind = domain.SessionEnd
	case "ChannelDtmfReceived":
		kind = domain.SessionInput
	default:
		return evt, false, nil
	}
	if w.Channel == nil || w.Channel.ID == "" {
		return evt, false, fmt.Errorf("%s: %w", w.Type, ErrNoChannel)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return evt, false, fmt.Errorf("decode ari event: %w", err)
	}

	evt = domain.SessionEvent{
		Kind:       kind,
		SessionID:  w.Channel.ID,
		Originator: w.Channel.Caller.Number,
		Routing: domain.Routing{
			Context:  w.Channel.Dialplan.Context,
			Exten:    w.Channel.Dialplan.Exten,
			Priority: priority(w.Channel.Dialplan.Priority),
		},
		Args:      w.Args,
		Input:     w.Digit,
		Timestamp: w.Timestamp,
		Raw:       raw,
	}
	return evt, true, nil
}

// priority accepts both numeric and string encodings.
func priority(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, _ = strconv.Atoi(s)
	}
	return n
}
