package sidecar

import (
	"context"
	"errors"

	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/manifest"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/trust"
)

// CheckResult is a dry-run decision: the full pipeline minus the forward,
// the compensation entry, and the audit trail.
type CheckResult struct {
	AgentID          string            `json:"agent_id"`
	TrustLevel       string            `json:"trust_level"`
	Score            int               `json:"score"`
	Findings         []inspect.Finding `json:"findings,omitempty"`
	InspectionFailed bool              `json:"inspection_failed,omitempty"`
	Outcome          string            `json:"outcome"`
	Code             string            `json:"code,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Overridable      bool              `json:"overridable,omitempty"`
}

// Check evaluates what would happen to a call without forwarding it.
func (s *Server) Check(ctx context.Context, agentID string, payload []byte) (*CheckResult, error) {
	m, err := s.registry.Get(ctx, agentID)
	if err != nil {
		if !errors.Is(err, manifest.ErrNotFound) && !errors.Is(err, manifest.ErrUnreachable) {
			return nil, err
		}
		m = manifest.Untrusted(agentID)
	}

	score := trust.Score(m)

	findings, inspErr := inspect.Inspect(payload)
	inspectionFailed := inspErr != nil
	if inspErr != nil && !errors.Is(inspErr, inspect.ErrUnscannable) {
		return nil, inspErr
	}

	policyCfg, _ := s.policySnapshot()
	decision := policy.Evaluate(policy.Input{
		Manifest:         m,
		Score:            score,
		Findings:         findings,
		InspectionFailed: inspectionFailed,
	}, policyCfg)

	return &CheckResult{
		AgentID:          agentID,
		TrustLevel:       string(m.TrustLevel),
		Score:            score,
		Findings:         findings,
		InspectionFailed: inspectionFailed,
		Outcome:          string(decision.Outcome),
		Code:             decision.Code,
		Reason:           decision.Reason,
		Overridable:      decision.Overridable,
	}, nil
}
