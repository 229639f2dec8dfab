package trustgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Headers understood by the sidecar's proxy surface.
const (
	headerTraceID       = "X-Trustgate-Trace-Id"
	headerOverride      = "X-Trustgate-Override"
	headerSagaID        = "X-Trustgate-Saga-Id"
	headerTransactionID = "X-Trustgate-Transaction-Id"

	overrideAllowOnce = "allow-once"
)

// Client talks to a running trustgate sidecar. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{
		baseURL: "http://localhost:8777",
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.baseURL == "" {
		return nil, fmt.Errorf("trustgate: base URL must not be empty")
	}
	h := cfg.httpClient
	if h == nil {
		h = &http.Client{Timeout: cfg.timeout}
	}
	return &Client{baseURL: cfg.baseURL, http: h}, nil
}

// Response is a successfully forwarded call.
type Response struct {
	TraceID       string
	TransactionID string // set when the call is undoable
	Status        int
	Body          []byte
}

// WarnError is a retryable quarantine rejection. When Overridable, retry
// the same call with WithOverride and the returned TraceID.
type WarnError struct {
	TraceID     string
	Code        string
	Reason      string
	Overridable bool
}

func (e *WarnError) Error() string {
	return fmt.Sprintf("trustgate: quarantined (%s): %s", e.Code, e.Reason)
}

// BlockedError is a terminal policy rejection. Overrides do not apply.
type BlockedError struct {
	TraceID string
	Code    string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("trustgate: blocked (%s): %s", e.Code, e.Reason)
}

// ThrottledError means the target is at its declared concurrency limit.
// No policy decision was made; retry after backoff. Overrides do not help.
type ThrottledError struct {
	TraceID string
	Code    string
	Reason  string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("trustgate: throttled (%s): %s", e.Code, e.Reason)
}

// UpstreamError means policy approved the call but the target failed.
type UpstreamError struct {
	TraceID string
	Reason  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("trustgate: upstream failure: %s", e.Reason)
}

type rejection struct {
	Outcome     string `json:"outcome"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
	TraceID     string `json:"trace_id"`
	Overridable bool   `json:"overridable"`
	Error       string `json:"error"`
}

// Call sends a payload to a target agent through the sidecar.
// Rejections come back as typed errors: *WarnError (retryable),
// *BlockedError (terminal), *ThrottledError (retry after backoff),
// *UpstreamError (target failed after approval).
func (c *Client) Call(ctx context.Context, agentID string, payload []byte, opts ...CallOption) (*Response, error) {
	cfg := callConfig{contentType: "application/json"}
	for _, o := range opts {
		o(&cfg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/call/"+agentID, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("trustgate: build request: %w", err)
	}
	req.Header.Set("Content-Type", cfg.contentType)
	if cfg.traceID != "" {
		req.Header.Set(headerTraceID, cfg.traceID)
	}
	if cfg.sagaID != "" {
		req.Header.Set(headerSagaID, cfg.sagaID)
	}
	if cfg.override {
		req.Header.Set(headerOverride, overrideAllowOnce)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trustgate: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("trustgate: read response: %w", err)
	}

	traceID := resp.Header.Get(headerTraceID)

	switch resp.StatusCode {
	case http.StatusForbidden:
		var rej rejection
		if err := json.Unmarshal(body, &rej); err == nil && rej.Outcome == "block" {
			return nil, &BlockedError{TraceID: rej.TraceID, Code: rej.Code, Reason: rej.Reason}
		}
	case http.StatusConflict:
		var rej rejection
		if err := json.Unmarshal(body, &rej); err == nil && rej.Outcome == "warn" {
			return nil, &WarnError{TraceID: rej.TraceID, Code: rej.Code, Reason: rej.Reason, Overridable: rej.Overridable}
		}
	case http.StatusTooManyRequests:
		var rej rejection
		if err := json.Unmarshal(body, &rej); err == nil && rej.Outcome == "throttled" {
			return nil, &ThrottledError{TraceID: rej.TraceID, Code: rej.Code, Reason: rej.Reason}
		}
	case http.StatusBadGateway:
		var rej rejection
		if err := json.Unmarshal(body, &rej); err == nil && rej.Outcome == "upstream_failure" {
			return nil, &UpstreamError{TraceID: rej.TraceID, Reason: rej.Reason}
		}
	case http.StatusServiceUnavailable, http.StatusNotFound:
		var rej rejection
		json.Unmarshal(body, &rej)
		msg := rej.Error
		if msg == "" {
			msg = string(body)
		}
		return nil, fmt.Errorf("trustgate: sidecar refused call (HTTP %d): %s", resp.StatusCode, msg)
	}

	return &Response{
		TraceID:       traceID,
		TransactionID: resp.Header.Get(headerTransactionID),
		Status:        resp.StatusCode,
		Body:          body,
	}, nil
}

// CompensationResult reports the outcome of one undo attempt.
type CompensationResult struct {
	TransactionID string `json:"transaction_id"`
	Result        string `json:"result"` // compensated | already_compensated | expired | not_found | failed
	Error         string `json:"error,omitempty"`
}

// Compensate undoes a previously forwarded reversible call.
func (c *Client) Compensate(ctx context.Context, transactionID string) (*CompensationResult, error) {
	var out CompensationResult
	if err := c.post(ctx, "/compensate/"+transactionID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SagaResult reports a saga rollback: hops in reverse call order.
type SagaResult struct {
	SagaID   string `json:"saga_id"`
	Complete bool   `json:"complete"`
	Hops     []struct {
		Order         int    `json:"order"`
		TransactionID string `json:"transaction_id"`
		Result        string `json:"result"`
		Error         string `json:"error,omitempty"`
	} `json:"hops"`
}

// CompensateSaga rolls back all hops of a saga in reverse call order.
// Complete is false when the walk aborted on a failed hop.
func (c *Client) CompensateSaga(ctx context.Context, sagaID string) (*SagaResult, error) {
	var out SagaResult
	if err := c.post(ctx, "/compensate/saga/"+sagaID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TraceRecord is one flight-recorder entry as returned by the sidecar.
type TraceRecord struct {
	Type          string `json:"type"`
	Timestamp     string `json:"ts"`
	TraceID       string `json:"trace_id"`
	AgentID       string `json:"agent_id,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
	Reason        string `json:"reason,omitempty"`
	LatencyMS     int64  `json:"latency_ms,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Trace returns the audit records for a trace id, in append order.
func (c *Client) Trace(ctx context.Context, traceID string) ([]TraceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trace/"+traceID, nil)
	if err != nil {
		return nil, fmt.Errorf("trustgate: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trustgate: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trustgate: trace query failed (HTTP %d)", resp.StatusCode)
	}

	var out struct {
		Records []TraceRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trustgate: decode trace: %w", err)
	}
	return out.Records, nil
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("trustgate: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trustgate: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	// Conflict and not-found still carry a result body worth decoding.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("trustgate: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}
