package policy

import (
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/inspect"
	"github.com/ppiankov/trustgate/internal/manifest"
)

func trustedManifest() manifest.Manifest {
	return manifest.Manifest{
		AgentID:       "payments",
		TrustLevel:    manifest.TrustTrusted,
		Reversibility: manifest.ReversibilityFull,
		Retention:     manifest.RetentionEphemeral,
	}
}

func untrustedManifest() manifest.Manifest {
	return manifest.Untrusted("sketchy")
}

func cardFinding() inspect.Finding {
	return inspect.Finding{Kind: inspect.KindCardNumber, Offset: 5, Length: 16, Excerpt: inspect.RedactionMarker}
}

func TestCriticalBlock(t *testing.T) {
	d := Evaluate(Input{
		Manifest: untrustedManifest(),
		Score:    0,
		Findings: []inspect.Finding{cardFinding()},
		TraceID:  "t-abc",
	}, DefaultConfig())

	if d.Outcome != Block {
		t.Fatalf("outcome = %s, want block", d.Outcome)
	}
	if d.Code != CodeCriticalExfil {
		t.Errorf("code = %s, want %s", d.Code, CodeCriticalExfil)
	}
	if d.Overridable {
		t.Error("critical block must not be overridable")
	}
	if d.Forwardable() {
		t.Error("blocked decision must not be forwardable")
	}
	if !strings.Contains(d.Reason, "card_number") {
		t.Errorf("reason should name the finding kind: %q", d.Reason)
	}
}

func TestOverrideNeverUpgradesBlock(t *testing.T) {
	d := Evaluate(Input{
		Manifest: untrustedManifest(),
		Findings: []inspect.Finding{cardFinding()},
		Override: true,
	}, DefaultConfig())

	if d.Outcome != Block {
		t.Fatalf("outcome = %s, want block despite override", d.Outcome)
	}
	if d.OverrideConsumed {
		t.Error("override must not be consumed on a block")
	}
	if d.Forwardable() {
		t.Error("override must never make a block forwardable")
	}
}

func TestAllowCleanHighScore(t *testing.T) {
	d := Evaluate(Input{
		Manifest: trustedManifest(),
		Score:    9,
		TraceID:  "t-def",
	}, DefaultConfig())

	if d.Outcome != Allow {
		t.Fatalf("outcome = %s, want allow", d.Outcome)
	}
	if !d.Forwardable() {
		t.Error("allow must be forwardable")
	}
	if d.TraceID != "t-def" {
		t.Errorf("trace id not propagated: %q", d.TraceID)
	}
}

func TestWarnLowScore(t *testing.T) {
	d := Evaluate(Input{
		Manifest: manifest.Manifest{TrustLevel: manifest.TrustStandard, Retention: manifest.RetentionSession},
		Score:    5,
	}, DefaultConfig())

	if d.Outcome != Warn {
		t.Fatalf("outcome = %s, want warn", d.Outcome)
	}
	if d.Code != CodeLowScore {
		t.Errorf("code = %s, want %s", d.Code, CodeLowScore)
	}
	if !d.Overridable {
		t.Error("warn must be overridable")
	}
	if d.Forwardable() {
		t.Error("warn without override must not be forwardable")
	}
}

func TestWarnSensitivePayloadOnTrustedTarget(t *testing.T) {
	// Findings to a non-untrusted target drop through rule 1 but still
	// deny the allow rule.
	d := Evaluate(Input{
		Manifest: trustedManifest(),
		Score:    10,
		Findings: []inspect.Finding{cardFinding()},
	}, DefaultConfig())

	if d.Outcome != Warn {
		t.Fatalf("outcome = %s, want warn", d.Outcome)
	}
	if d.Code != CodeSensitivePayload {
		t.Errorf("code = %s, want %s", d.Code, CodeSensitivePayload)
	}
}

func TestInspectionFailureForcesWarn(t *testing.T) {
	d := Evaluate(Input{
		Manifest:         trustedManifest(),
		Score:            10,
		InspectionFailed: true,
	}, DefaultConfig())

	if d.Outcome != Warn {
		t.Fatalf("outcome = %s, want warn for unscannable payload", d.Outcome)
	}
	if d.Code != CodeUnscannable {
		t.Errorf("code = %s, want %s", d.Code, CodeUnscannable)
	}
}

func TestOverrideUpgradesWarn(t *testing.T) {
	d := Evaluate(Input{
		Manifest: manifest.Manifest{TrustLevel: manifest.TrustStandard, Retention: manifest.RetentionSession},
		Score:    5,
		Override: true,
	}, DefaultConfig())

	if d.Outcome != Warn {
		t.Fatalf("outcome = %s, want warn", d.Outcome)
	}
	if !d.OverrideConsumed {
		t.Error("override should be consumed on warn")
	}
	if !d.Forwardable() {
		t.Error("warn with consumed override must be forwardable")
	}
}

func TestThresholdFromConfig(t *testing.T) {
	cfg := &Config{AllowScoreMin: 3}
	d := Evaluate(Input{
		Manifest: manifest.Manifest{TrustLevel: manifest.TrustStandard, Retention: manifest.RetentionSession},
		Score:    5,
	}, cfg)
	if d.Outcome != Allow {
		t.Errorf("outcome = %s, want allow with lowered threshold", d.Outcome)
	}

	cfg = &Config{AllowScoreMin: 10}
	d = Evaluate(Input{Manifest: trustedManifest(), Score: 9}, cfg)
	if d.Outcome != Warn {
		t.Errorf("outcome = %s, want warn with raised threshold", d.Outcome)
	}
}

func TestNilConfigUsesDefaults(t *testing.T) {
	d := Evaluate(Input{Manifest: trustedManifest(), Score: 9}, nil)
	if d.Outcome != Allow {
		t.Errorf("outcome = %s, want allow with default threshold", d.Outcome)
	}
}
