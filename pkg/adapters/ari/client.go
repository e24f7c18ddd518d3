// Package ari connects the runtime to Asterisk through the Asterisk REST Interface.
//
// Client implements ports.CallControl over the REST API. EventSource reads the application's
// websocket and turns Stasis events into domain.SessionEvent values for the session router.
package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/ports"
	"github.com/google/uuid"
)

// Config holds the connection details.
type Config struct {
	URL      string // e.g. http://localhost:8088
	Username string
	Password string
	App      string
}

// Client implements ports.CallControl.
type Client struct {
	cfg       Config
	http      *http.Client
	logger    *slog.Logger
	available atomic.Bool
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a client. It reports unavailable until SetAvailable(true) is called,
// which EventSource does once its websocket is up.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logging.NewNop(),
	}
	c.cfg.URL = strings.TrimRight(c.cfg.URL, "/")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAvailable flips the connection flag.
func (c *Client) SetAvailable(ok bool) {
	c.available.Store(ok)
}

// Available reports whether the connection is up.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Config returns the connection details.
func (c *Client) Config() Config {
	return c.cfg
}

// APIError is a non-2xx ARI response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ari %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if !c.Available() {
		return domain.ErrControlUnavailable
	}

	u := c.cfg.URL + "/ari" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build ari request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ari %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read ari response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode ari response: %w", err)
		}
	}
	c.logger.Debug("ari request", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}

func channelPath(id string, rest ...string) string {
	p := "/channels/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "answer"), nil, nil)
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, channelPath(channelID), nil, nil)
}

// Play starts media on the channel with a client-generated playback id.
func (c *Client) Play(ctx context.Context, channelID, media string) (string, error) {
	playbackID := uuid.NewString()
	var playback struct {
		ID string `json:"id"`
	}
	q := url.Values{"media": {media}}
	if err := c.do(ctx, http.MethodPost, channelPath(channelID, "play", playbackID), q, &playback); err != nil {
		return "", err
	}
	if playback.ID != "" {
		return playback.ID, nil
	}
	return playbackID, nil
}

func (c *Client) GetVariable(ctx context.Context, channelID, variable string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	q := url.Values{"variable": {variable}}
	if err := c.do(ctx, http.MethodGet, channelPath(channelID, "variable"), q, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (c *Client) SetVariable(ctx context.Context, channelID, variable, value string) error {
	q := url.Values{"variable": {variable}, "value": {value}}
	return c.do(ctx, http.MethodPost, channelPath(channelID, "variable"), q, nil)
}

// Originate creates an outbound channel. Without an extension the channel enters the
// configured Stasis application. TimeoutMS is rounded up to whole seconds.
func (c *Client) Originate(ctx context.Context, req ports.OriginateRequest) (*ports.Channel, error) {
	q := url.Values{"endpoint": {req.Endpoint}}
	if req.Extension != "" {
		q.Set("extension", req.Extension)
		if req.Context != "" {
			q.Set("context", req.Context)
		}
		if req.Priority > 0 {
			q.Set("priority", strconv.Itoa(req.Priority))
		}
	} else {
		q.Set("app", c.cfg.App)
		if req.AppArgs != "" {
			q.Set("appArgs", req.AppArgs)
		}
	}
	if req.CallerID != "" {
		q.Set("callerId", req.CallerID)
	}
	if req.TimeoutMS > 0 {
		q.Set("timeout", strconv.Itoa(int(math.Ceil(float64(req.TimeoutMS)/1000))))
	}

	var ch ports.Channel
	if err := c.do(ctx, http.MethodPost, "/channels", q, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}
