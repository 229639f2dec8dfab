package trustgate

import (
	"net/http"
	"time"
)

type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client at creation time.
type Option func(*clientConfig)

// WithBaseURL points the client at a sidecar. Default http://localhost:8777.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = h }
}

// WithTimeout bounds each request. Ignored when WithHTTPClient is set.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

type callConfig struct {
	traceID     string
	sagaID      string
	override    bool
	contentType string
}

// CallOption configures a single Call.
type CallOption func(*callConfig)

// WithTraceID propagates an existing trace id instead of having the
// sidecar assign one. Use the trace id from a WarnError when retrying
// with an override so both attempts share one trace.
func WithTraceID(id string) CallOption {
	return func(c *callConfig) { c.traceID = id }
}

// WithSagaID registers this call as the next hop of a saga.
func WithSagaID(id string) CallOption {
	return func(c *callConfig) { c.sagaID = id }
}

// WithOverride sends a one-time override. Upgrades a warn decision to a
// forward; blocks are unaffected.
func WithOverride() CallOption {
	return func(c *callConfig) { c.override = true }
}

// WithContentType sets the payload content type. Default application/json.
func WithContentType(ct string) CallOption {
	return func(c *callConfig) { c.contentType = ct }
}
