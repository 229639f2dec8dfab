// Package trust maps a capability manifest to a 0–10 trust score.
// Scoring is pure and deterministic: the same manifest always produces the
// same score, so tests can use it as an oracle.
package trust

import "github.com/ppiankov/trustgate/internal/manifest"

// baseScore is the exhaustive base table over the closed trust-tier enum.
var baseScore = map[manifest.TrustLevel]int{
	manifest.TrustVerifiedPartner: 10,
	manifest.TrustTrusted:         7,
	manifest.TrustStandard:        5,
	manifest.TrustUnknown:         2,
	manifest.TrustUntrusted:       0,
}

// Score derives the trust score for a manifest. No side effects.
//
// base + 2 if reversible + 1 if ephemeral − 1 if permanent
// − 2 if human_in_loop − 1 if training_consent, clamped to [0,10].
func Score(m manifest.Manifest) int {
	score := baseScore[m.TrustLevel]

	if m.Reversibility != manifest.ReversibilityNone {
		score += 2
	}
	switch m.Retention {
	case manifest.RetentionEphemeral:
		score++
	case manifest.RetentionPermanent:
		score--
	}
	if m.HumanInLoop {
		score -= 2
	}
	if m.TrainingConsent {
		score--
	}

	return clamp(score, 0, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
