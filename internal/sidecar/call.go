package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/manifest"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/tracer"
	"github.com/ppiankov/trustgate/internal/trust"
)

// Call outcomes beyond the policy decision itself.
const (
	OutcomeUpstreamFailure = "upstream_failure"
	CodeUpstreamFailure    = "upstream.failure"

	OutcomeThrottled     = "throttled"
	CodeConcurrencyLimit = "sidecar.concurrency_limit"
)

const (
	invokePath     = "/invoke"
	compensatePath = "/compensate"
	maxExcerpt     = 256
	maxBodyBytes   = 4 << 20
)

// CallRequest is one proxied call as the pipeline sees it.
type CallRequest struct {
	AgentID     string
	Payload     []byte
	ContentType string
	TraceID     string // empty means assign
	Override    bool   // allow-once upgrade for a warn decision
	SagaID      string // optional multi-hop transaction membership
}

// CallResult is the pipeline's answer: either a relayed upstream response
// or a structured rejection.
type CallResult struct {
	TraceID          string
	Outcome          string // allow | warn | block | upstream_failure
	Code             string
	Reason           string
	Overridable      bool
	OverrideConsumed bool
	Forwarded        bool
	StatusCode       int // upstream status, valid when Forwarded
	Body             []byte
	ContentType      string
	TransactionID    string // set when a compensation entry was registered
	LatencyMS        int64
}

// Call runs the full decide-then-forward pipeline for one request.
// Rejections are results, not errors; an error return means the sidecar
// itself could not do its job (unknown agent, audit write failure).
func (s *Server) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	base, ok := s.registry.BaseURL(req.AgentID)
	if !ok {
		return nil, fmt.Errorf("sidecar: unknown agent %q", req.AgentID)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = tracer.NewTraceID()
	}

	// Discovery failure is not a caller error: the call proceeds against
	// the fail-closed untrusted default.
	m, err := s.registry.Get(ctx, req.AgentID)
	if err != nil {
		if !errors.Is(err, manifest.ErrNotFound) && !errors.Is(err, manifest.ErrUnreachable) {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "trustgate: discovery failed for %q, treating as untrusted: %v\n", req.AgentID, err)
		m = manifest.Untrusted(req.AgentID)
	}

	score := trust.Score(m)

	findings, inspErr := inspect.Inspect(req.Payload)
	inspectionFailed := inspErr != nil
	if inspErr != nil && !errors.Is(inspErr, inspect.ErrUnscannable) {
		return nil, inspErr
	}

	policyCfg, policyHash := s.policySnapshot()

	excerpt := truncateExcerpt(inspect.Scrub(string(req.Payload)))
	digest := audit.PayloadDigest(req.Payload)

	if err := s.log.Append(audit.Record{
		Type:          audit.TypeRequest,
		TraceID:       traceID,
		AgentID:       req.AgentID,
		PayloadDigest: digest,
		Excerpt:       excerpt,
		PolicyHash:    policyHash,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	decision := policy.Evaluate(policy.Input{
		Manifest:         m,
		Score:            score,
		Findings:         findings,
		InspectionFailed: inspectionFailed,
		Override:         req.Override,
		TraceID:          traceID,
	}, policyCfg)

	res := &CallResult{
		TraceID:          traceID,
		Outcome:          string(decision.Outcome),
		Code:             decision.Code,
		Reason:           decision.Reason,
		Overridable:      decision.Overridable,
		OverrideConsumed: decision.OverrideConsumed,
	}

	if !decision.Forwardable() {
		recType := audit.TypeQuarantine
		if decision.Outcome == policy.Block {
			recType = audit.TypeBlocked
		}
		// The rejection record lands durably before the caller hears no.
		if err := s.log.Append(audit.Record{
			Type:          recType,
			TraceID:       traceID,
			AgentID:       req.AgentID,
			Outcome:       string(decision.Outcome),
			ReasonCode:    decision.Code,
			Reason:        decision.Reason,
			PayloadDigest: digest,
			PolicyHash:    policyHash,
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		return res, nil
	}

	// Honor the target's declared concurrency limit before any traffic.
	if !s.gate.acquire(req.AgentID, m.ConcurrencyLimit) {
		res.Outcome = OutcomeThrottled
		res.Code = CodeConcurrencyLimit
		res.OverrideConsumed = false
		res.Reason = fmt.Sprintf("agent %q at declared concurrency limit %d", req.AgentID, m.ConcurrencyLimit)
		if aerr := s.log.Append(audit.Record{
			Type:       audit.TypeQuarantine,
			TraceID:    traceID,
			AgentID:    req.AgentID,
			Outcome:    OutcomeThrottled,
			ReasonCode: CodeConcurrencyLimit,
			Reason:     res.Reason,
			PolicyHash: policyHash,
		}); aerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, aerr)
		}
		return res, nil
	}

	// The override record lands only once the call is actually going out:
	// a throttled call upgraded nothing.
	if decision.OverrideConsumed {
		if err := s.log.Append(audit.Record{
			Type:       audit.TypeOverride,
			TraceID:    traceID,
			AgentID:    req.AgentID,
			Outcome:    string(decision.Outcome),
			ReasonCode: decision.Code,
			Reason:     "caller override consumed, warn upgraded to forward",
			PolicyHash: policyHash,
		}); err != nil {
			s.gate.release(req.AgentID, m.ConcurrencyLimit)
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
	}

	// Forward under the tighter of the manifest SLA and the configured cap.
	timeout := s.cfg.MaxForwardTimeout.Std()
	if m.SLALatencyMS > 0 {
		if sla := time.Duration(m.SLALatencyMS) * time.Millisecond; sla < timeout {
			timeout = sla
		}
	}

	start := time.Now()
	upstream, err := s.forward(ctx, base, req, traceID, timeout)
	s.gate.release(req.AgentID, m.ConcurrencyLimit)
	res.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		// Transport failure is its own outcome, never conflated with a
		// policy rejection, and never retried here.
		res.Outcome = OutcomeUpstreamFailure
		res.Code = CodeUpstreamFailure
		res.Reason = fmt.Sprintf("forward to %q failed: %v", req.AgentID, err)
		if aerr := s.log.Append(audit.Record{
			Type:       audit.TypeResponse,
			TraceID:    traceID,
			AgentID:    req.AgentID,
			Outcome:    OutcomeUpstreamFailure,
			ReasonCode: CodeUpstreamFailure,
			Reason:     res.Reason,
			LatencyMS:  res.LatencyMS,
			PolicyHash: policyHash,
		}); aerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, aerr)
		}
		return res, nil
	}

	res.Forwarded = true
	res.StatusCode = upstream.status
	res.Body = upstream.body
	res.ContentType = upstream.contentType

	if m.Reversible() {
		undoWindow := s.cfg.DefaultUndoWindow.Std()
		if m.UndoWindowMS > 0 {
			undoWindow = time.Duration(m.UndoWindowMS) * time.Millisecond
		}
		entry, err := s.store.Register(ctx, req.AgentID, traceID, base, undoWindow)
		if err != nil {
			// The effect already happened; losing undo tracking is logged
			// loudly but does not fail the relay.
			fmt.Fprintf(os.Stderr, "trustgate: failed to register compensation entry: %v\n", err)
		} else {
			res.TransactionID = entry.TransactionID
			if req.SagaID != "" {
				if err := s.store.AppendHop(ctx, req.SagaID, entry.TransactionID); err != nil {
					fmt.Fprintf(os.Stderr, "trustgate: failed to append saga hop: %v\n", err)
				}
			}
		}
	}

	if err := s.log.Append(audit.Record{
		Type:          audit.TypeResponse,
		TraceID:       traceID,
		AgentID:       req.AgentID,
		Outcome:       string(decision.Outcome),
		LatencyMS:     res.LatencyMS,
		TransactionID: res.TransactionID,
		PolicyHash:    policyHash,
	}); err != nil {
		// Already forwarded: relay the response, surface the gap.
		fmt.Fprintf(os.Stderr, "trustgate: failed to record response: %v\n", err)
	}

	return res, nil
}

// truncateExcerpt caps the audited excerpt without splitting a rune.
func truncateExcerpt(s string) string {
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type upstreamResponse struct {
	status      int
	body        []byte
	contentType string
}

// forward performs the single upstream invocation. Caller cancellation
// propagates through ctx; the deadline is the per-call forward budget.
func (s *Server) forward(ctx context.Context, base string, req CallRequest, traceID string, timeout time.Duration) (*upstreamResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+invokePath, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("X-Trustgate-Trace-Id", traceID)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &upstreamResponse{
		status:      resp.StatusCode,
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

// httpInvoker drives a target's compensation endpoint.
type httpInvoker struct {
	client  *http.Client
	timeout time.Duration
}

func (i *httpInvoker) Compensate(ctx context.Context, target, transactionID string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"transaction_id": transactionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+compensatePath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("compensation endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) invoker() *httpInvoker {
	return &httpInvoker{client: s.client, timeout: s.cfg.CompensateTimeout.Std()}
}
