package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/compensation"
)

// Request headers understood by the proxy surface.
const (
	HeaderTraceID       = "X-Trustgate-Trace-Id"
	HeaderOverride      = "X-Trustgate-Override"
	HeaderSagaID        = "X-Trustgate-Saga-Id"
	HeaderTransactionID = "X-Trustgate-Transaction-Id"

	// OverrideAllowOnce is the only accepted override header value.
	OverrideAllowOnce = "allow-once"
)

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := s.Call(r.Context(), CallRequest{
		AgentID:     agentID,
		Payload:     payload,
		ContentType: r.Header.Get("Content-Type"),
		TraceID:     r.Header.Get(HeaderTraceID),
		Override:    r.Header.Get(HeaderOverride) == OverrideAllowOnce,
		SagaID:      r.Header.Get(HeaderSagaID),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAuditUnavailable):
			writeError(w, http.StatusServiceUnavailable, "audit log unavailable, refusing to proceed")
		default:
			writeError(w, http.StatusNotFound, err.Error())
		}
		return
	}

	w.Header().Set(HeaderTraceID, res.TraceID)

	if res.Forwarded {
		if res.TransactionID != "" {
			w.Header().Set(HeaderTransactionID, res.TransactionID)
		}
		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(res.StatusCode)
		w.Write(res.Body)
		return
	}

	switch res.Outcome {
	case "block":
		writeJSON(w, http.StatusForbidden, map[string]any{
			"blocked":  true,
			"outcome":  res.Outcome,
			"code":     res.Code,
			"reason":   res.Reason,
			"trace_id": res.TraceID,
		})
	case "warn":
		writeJSON(w, http.StatusConflict, map[string]any{
			"outcome":     res.Outcome,
			"retryable":   true,
			"overridable": res.Overridable,
			"code":        res.Code,
			"reason":      res.Reason,
			"trace_id":    res.TraceID,
		})
	case OutcomeThrottled:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"outcome":   res.Outcome,
			"retryable": true,
			"code":      res.Code,
			"reason":    res.Reason,
			"trace_id":  res.TraceID,
		})
	case OutcomeUpstreamFailure:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"outcome":  res.Outcome,
			"code":     res.Code,
			"reason":   res.Reason,
			"trace_id": res.TraceID,
		})
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("unexpected outcome %q", res.Outcome))
	}
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	records, err := s.log.Trace(traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": traceID,
		"records":  records,
	})
}

// CompensateTx rolls back one transaction and records the attempt.
func (s *Server) CompensateTx(ctx context.Context, transactionID string) (compensation.Result, error) {
	entry, err := s.store.Get(ctx, transactionID)
	traceID := ""
	agentID := ""
	if err == nil {
		traceID = entry.TraceID
		agentID = entry.AgentID
	} else if !errors.Is(err, compensation.ErrNotFound) {
		return compensation.ResultFailed, err
	}

	res, cerr := s.store.Compensate(ctx, transactionID, s.invoker())

	rec := audit.Record{
		Type:          audit.TypeCompensation,
		TraceID:       traceID,
		AgentID:       agentID,
		Outcome:       string(res),
		TransactionID: transactionID,
	}
	if cerr != nil {
		rec.Reason = cerr.Error()
	}
	if aerr := s.log.Append(rec); aerr != nil {
		fmt.Fprintf(os.Stderr, "trustgate: failed to record compensation: %v\n", aerr)
	}

	return res, cerr
}

func (s *Server) handleCompensate(w http.ResponseWriter, r *http.Request) {
	txid := r.PathValue("txid")

	res, err := s.CompensateTx(r.Context(), txid)

	status := http.StatusOK
	body := map[string]any{
		"transaction_id": txid,
		"result":         string(res),
	}
	switch res {
	case compensation.ResultNotFound:
		status = http.StatusNotFound
	case compensation.ResultExpired, compensation.ResultAlreadyCompensated:
		status = http.StatusConflict
	case compensation.ResultFailed:
		status = http.StatusBadGateway
		if err != nil {
			body["error"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

// CompensateSagaTx rolls back a saga in reverse call order and records
// every attempted hop. complete is false when the walk aborted on a
// failed hop, leaving earlier hops uncompensated.
func (s *Server) CompensateSagaTx(ctx context.Context, sagaID string) (results []compensation.HopResult, complete bool, err error) {
	results, err = s.store.CompensateSaga(ctx, sagaID, s.invoker())
	if err != nil {
		return nil, false, err
	}

	complete = true
	for _, hr := range results {
		if hr.Result == compensation.ResultFailed {
			complete = false
		}
		if aerr := s.log.Append(audit.Record{
			Type:          audit.TypeCompensation,
			TraceID:       sagaID,
			Outcome:       string(hr.Result),
			TransactionID: hr.TransactionID,
			Reason:        hr.Error,
		}); aerr != nil {
			fmt.Fprintf(os.Stderr, "trustgate: failed to record saga compensation: %v\n", aerr)
		}
	}
	return results, complete, nil
}

func (s *Server) handleCompensateSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := r.PathValue("id")

	results, complete, err := s.CompensateSagaTx(r.Context(), sagaID)
	if err != nil {
		if errors.Is(err, compensation.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("saga %q not found", sagaID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if !complete {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"saga_id":  sagaID,
		"complete": complete,
		"hops":     results,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
