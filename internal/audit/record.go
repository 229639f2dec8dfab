package audit

// RecordType classifies one flight-recorder entry.
type RecordType string

const (
	TypeRequest      RecordType = "request"
	TypeResponse     RecordType = "response"
	TypeBlocked      RecordType = "blocked"
	TypeQuarantine   RecordType = "quarantine"
	TypeCompensation RecordType = "compensation"
	TypeOverride     RecordType = "override"
)

// Record is one line in the hash-chained JSONL flight recorder.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing. Immutable once
// appended; ordered by append sequence.
type Record struct {
	Type          RecordType `json:"type"`
	Timestamp     string     `json:"ts"`
	TraceID       string     `json:"trace_id"`
	AgentID       string     `json:"agent_id,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	ReasonCode    string     `json:"reason_code,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	LatencyMS     int64      `json:"latency_ms,omitempty"`
	PayloadDigest string     `json:"payload_digest,omitempty"`
	Excerpt       string     `json:"excerpt,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PolicyHash    string     `json:"policy_hash,omitempty"`
	PrevHash      string     `json:"prev_hash"`
}
