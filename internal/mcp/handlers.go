package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/compensation"
	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/sidecar"
)

// --- Input/Output types ---

// CheckInput defines parameters for the trustgate_check tool.
type CheckInput struct {
	AgentID string `json:"agent_id" jsonschema:"target agent id"`
	Payload string `json:"payload" jsonschema:"payload to evaluate (not forwarded)"`
}

// CheckOutput contains the dry-run decision.
type CheckOutput struct {
	TrustLevel       string            `json:"trust_level"`
	Score            int               `json:"score"`
	Findings         []inspect.Finding `json:"findings,omitempty"`
	InspectionFailed bool              `json:"inspection_failed,omitempty"`
	Outcome          string            `json:"outcome"`
	Code             string            `json:"code,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Overridable      bool              `json:"overridable,omitempty"`
}

// CallInput defines parameters for the trustgate_call tool.
type CallInput struct {
	AgentID  string `json:"agent_id" jsonschema:"target agent id"`
	Payload  string `json:"payload" jsonschema:"payload to forward"`
	Override bool   `json:"override,omitempty" jsonschema:"consume a one-time override if the decision is warn"`
	SagaID   string `json:"saga_id,omitempty" jsonschema:"saga this hop belongs to"`
	TraceID  string `json:"trace_id,omitempty" jsonschema:"trace id to propagate, omit to assign"`
}

// CallOutput contains the relayed response or the structured rejection.
type CallOutput struct {
	TraceID       string `json:"trace_id"`
	Outcome       string `json:"outcome"`
	Code          string `json:"code,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Overridable   bool   `json:"overridable,omitempty"`
	Forwarded     bool   `json:"forwarded"`
	Status        int    `json:"status,omitempty"`
	Body          string `json:"body,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	LatencyMS     int64  `json:"latency_ms,omitempty"`
}

// CompensateInput defines parameters for the trustgate_compensate tool.
// Exactly one of transaction_id or saga_id must be set.
type CompensateInput struct {
	TransactionID string `json:"transaction_id,omitempty" jsonschema:"transaction to undo"`
	SagaID        string `json:"saga_id,omitempty" jsonschema:"saga to roll back in reverse call order"`
}

// CompensateOutput reports per-entry compensation results.
type CompensateOutput struct {
	Result string                   `json:"result,omitempty"`
	Hops   []compensation.HopResult `json:"hops,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// TraceInput defines parameters for the trustgate_trace tool.
type TraceInput struct {
	TraceID string `json:"trace_id" jsonschema:"trace id to look up"`
}

// TraceOutput lists the audit records in append order.
type TraceOutput struct {
	Records []audit.Record `json:"records"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	res, err := s.sidecar.Check(ctx, input.AgentID, []byte(input.Payload))
	if err != nil {
		return nil, CheckOutput{}, err
	}
	return nil, CheckOutput{
		TrustLevel:       res.TrustLevel,
		Score:            res.Score,
		Findings:         res.Findings,
		InspectionFailed: res.InspectionFailed,
		Outcome:          res.Outcome,
		Code:             res.Code,
		Reason:           res.Reason,
		Overridable:      res.Overridable,
	}, nil
}

func (s *Server) handleCall(ctx context.Context, req *mcpsdk.CallToolRequest, input CallInput) (*mcpsdk.CallToolResult, CallOutput, error) {
	res, err := s.sidecar.Call(ctx, sidecar.CallRequest{
		AgentID:     input.AgentID,
		Payload:     []byte(input.Payload),
		ContentType: "application/json",
		TraceID:     input.TraceID,
		Override:    input.Override,
		SagaID:      input.SagaID,
	})
	if err != nil {
		return nil, CallOutput{}, err
	}

	out := CallOutput{
		TraceID:       res.TraceID,
		Outcome:       res.Outcome,
		Code:          res.Code,
		Reason:        res.Reason,
		Overridable:   res.Overridable,
		Forwarded:     res.Forwarded,
		Status:        res.StatusCode,
		Body:          string(res.Body),
		TransactionID: res.TransactionID,
		LatencyMS:     res.LatencyMS,
	}
	if !res.Forwarded {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleCompensate(ctx context.Context, req *mcpsdk.CallToolRequest, input CompensateInput) (*mcpsdk.CallToolResult, CompensateOutput, error) {
	switch {
	case input.TransactionID != "" && input.SagaID != "":
		return nil, CompensateOutput{}, fmt.Errorf("set transaction_id or saga_id, not both")

	case input.TransactionID != "":
		res, err := s.sidecar.CompensateTx(ctx, input.TransactionID)
		out := CompensateOutput{Result: string(res)}
		if err != nil {
			out.Error = err.Error()
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, out, nil

	case input.SagaID != "":
		hops, complete, err := s.sidecar.CompensateSagaTx(ctx, input.SagaID)
		if err != nil {
			return nil, CompensateOutput{}, err
		}
		out := CompensateOutput{Hops: hops}
		if !complete {
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, out, nil

	default:
		return nil, CompensateOutput{}, fmt.Errorf("transaction_id or saga_id required")
	}
}

func (s *Server) handleTrace(ctx context.Context, req *mcpsdk.CallToolRequest, input TraceInput) (*mcpsdk.CallToolResult, TraceOutput, error) {
	records, err := s.sidecar.AuditLog().Trace(input.TraceID)
	if err != nil {
		return nil, TraceOutput{}, err
	}
	if records == nil {
		records = []audit.Record{}
	}
	return nil, TraceOutput{Records: records}, nil
}
