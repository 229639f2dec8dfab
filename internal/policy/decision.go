package policy

// Outcome is the policy decision rendered for one inbound call.
type Outcome string

const (
	Allow Outcome = "allow"
	Warn  Outcome = "warn"
	Block Outcome = "block"
)

// Reason codes returned with every non-allow decision. Machine-readable;
// the human text travels alongside, never instead.
const (
	CodeCriticalExfil    = "policy.critical_exfil"
	CodeSensitivePayload = "policy.sensitive_payload"
	CodeLowScore         = "policy.low_score"
	CodeUnscannable      = "inspect.unscannable"
)

// Decision is the output of one policy evaluation. Fully determined by the
// Input it was evaluated from.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Code    string  `json:"reason_code,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	TraceID string  `json:"trace_id"`

	// Overridable is true only for warn decisions. A block can never be
	// upgraded by an override.
	Overridable bool `json:"overridable,omitempty"`

	// OverrideConsumed is set when a caller-supplied override upgraded
	// this warn to a forward. Consuming an override is itself audited.
	OverrideConsumed bool `json:"override_consumed,omitempty"`
}

// Forwardable reports whether the call may proceed to the target.
func (d Decision) Forwardable() bool {
	return d.Outcome == Allow || (d.Outcome == Warn && d.OverrideConsumed)
}
