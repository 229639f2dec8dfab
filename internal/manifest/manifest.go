package manifest

import "encoding/json"

// TrustLevel is the declared trust tier of a target agent.
type TrustLevel string

const (
	TrustVerifiedPartner TrustLevel = "verified_partner"
	TrustTrusted         TrustLevel = "trusted"
	TrustStandard        TrustLevel = "standard"
	TrustUnknown         TrustLevel = "unknown"
	TrustUntrusted       TrustLevel = "untrusted"
)

// Reversibility declares whether an agent's actions can be undone.
type Reversibility string

const (
	ReversibilityFull    Reversibility = "full"
	ReversibilityPartial Reversibility = "partial"
	ReversibilityNone    Reversibility = "none"
)

// Retention declares how long an agent keeps the data it receives.
type Retention string

const (
	RetentionEphemeral Retention = "ephemeral"
	RetentionSession   Retention = "session"
	RetentionPermanent Retention = "permanent"
)

// Manifest is a target agent's capability declaration, served from its
// well-known discovery path. Immutable for the duration of one decision;
// refreshed only by cache expiry.
type Manifest struct {
	AgentID          string        `json:"agent_id"`
	TrustLevel       TrustLevel    `json:"trust_level"`
	Reversibility    Reversibility `json:"reversibility"`
	Idempotent       bool          `json:"idempotent"`
	ConcurrencyLimit int           `json:"concurrency_limit"`
	SLALatencyMS     int           `json:"sla_latency_ms"`
	Retention        Retention     `json:"retention"`
	HumanInLoop      bool          `json:"human_in_loop"`
	TrainingConsent  bool          `json:"training_consent"`
	UndoWindowMS     int           `json:"undo_window_ms"`
}

// Untrusted returns the fail-closed default manifest used when discovery
// fails: untrusted tier, nothing reversible, permanent retention.
func Untrusted(agentID string) Manifest {
	return Manifest{
		AgentID:       agentID,
		TrustLevel:    TrustUntrusted,
		Reversibility: ReversibilityNone,
		Retention:     RetentionPermanent,
	}
}

// Parse decodes a manifest document and normalizes its enum fields.
func Parse(data []byte, agentID string) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	if m.AgentID == "" {
		m.AgentID = agentID
	}
	m.Normalize()
	return m, nil
}

// Normalize coerces unrecognized enum values to their fail-closed variant
// so that scoring stays total over the closed enum set.
func (m *Manifest) Normalize() {
	switch m.TrustLevel {
	case TrustVerifiedPartner, TrustTrusted, TrustStandard, TrustUnknown, TrustUntrusted:
	default:
		m.TrustLevel = TrustUntrusted
	}
	switch m.Reversibility {
	case ReversibilityFull, ReversibilityPartial, ReversibilityNone:
	default:
		m.Reversibility = ReversibilityNone
	}
	switch m.Retention {
	case RetentionEphemeral, RetentionSession, RetentionPermanent:
	default:
		m.Retention = RetentionPermanent
	}
	if m.UndoWindowMS < 0 {
		m.UndoWindowMS = 0
	}
}

// Reversible reports whether the agent declares any form of undo.
func (m Manifest) Reversible() bool {
	return m.Reversibility != ReversibilityNone
}
