package ports

import (
	"context"
	"time"
)

// HTTPRequest is a fully resolved external call.
type HTTPRequest struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// HTTPResponse carries the status and the decoded body (JSON value or raw string).
type HTTPResponse struct {
	Status int
	Body   any
}

// HTTPDoer is the HTTP collaborator. Transport failures, timeouts and non-2xx statuses
// are all returned as errors.
type HTTPDoer interface {
	Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}
