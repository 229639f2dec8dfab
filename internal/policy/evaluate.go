package policy

import (
	"fmt"

	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/manifest"
)

// Input carries everything one evaluation depends on. The override signal
// is threaded here explicitly so a single Evaluate call is fully
// reproducible from its inputs.
type Input struct {
	Manifest         manifest.Manifest
	Score            int
	Findings         []inspect.Finding
	InspectionFailed bool
	Override         bool
	TraceID          string
}

// Evaluate renders an allow/warn/block decision from a fixed, ordered rule
// table. First match wins; no rule is re-evaluated after a match.
//
// Rule order (must not be changed — criticality dominates score):
//  1. Critical: untrusted destination + restricted finding → block,
//     non-overridable.
//  2. Allow: score ≥ threshold and no blocking finding.
//  3. Default: warn; a caller-supplied override upgrades the warn to a
//     forward and is consumed here, once per request.
func Evaluate(in Input, cfg *Config) Decision {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Rule 1: critical block. Any restricted-category finding bound for an
	// untrusted destination. Override has no effect here.
	if in.Manifest.TrustLevel == manifest.TrustUntrusted && len(in.Findings) > 0 {
		first := in.Findings[0] // findings are offset-ordered: deterministic reason
		return Decision{
			Outcome: Block,
			Code:    CodeCriticalExfil,
			Reason:  fmt.Sprintf("restricted content (%s) bound for untrusted agent %q", first.Kind, in.Manifest.AgentID),
			TraceID: in.TraceID,
		}
	}

	// Rule 2: allow. Requires a clean scan — an inspection failure means
	// findings are unknown, which never satisfies "no findings".
	if !in.InspectionFailed && in.Score >= cfg.AllowScoreMin && len(in.Findings) == 0 {
		return Decision{
			Outcome: Allow,
			TraceID: in.TraceID,
		}
	}

	// Rule 3: default warn.
	d := Decision{
		Outcome:     Warn,
		TraceID:     in.TraceID,
		Overridable: true,
	}
	switch {
	case in.InspectionFailed:
		d.Code = CodeUnscannable
		d.Reason = "payload could not be inspected; findings unknown"
	case len(in.Findings) > 0:
		d.Code = CodeSensitivePayload
		d.Reason = fmt.Sprintf("payload contains %d restricted finding(s)", len(in.Findings))
	default:
		d.Code = CodeLowScore
		d.Reason = fmt.Sprintf("trust score %d below allow threshold %d", in.Score, cfg.AllowScoreMin)
	}

	if in.Override {
		d.OverrideConsumed = true
	}

	return d
}
