package trust

import (
	"testing"

	"github.com/ppiankov/trustgate/internal/manifest"
)

func TestScoreVectors(t *testing.T) {
	tests := []struct {
		name string
		m    manifest.Manifest
		want int
	}{
		{
			name: "verified partner base",
			m:    manifest.Manifest{TrustLevel: manifest.TrustVerifiedPartner, Reversibility: manifest.ReversibilityNone, Retention: manifest.RetentionSession},
			want: 10,
		},
		{
			name: "untrusted base",
			m:    manifest.Manifest{TrustLevel: manifest.TrustUntrusted, Reversibility: manifest.ReversibilityNone, Retention: manifest.RetentionSession},
			want: 0,
		},
		{
			name: "trusted reversible ephemeral hits ceiling",
			m:    manifest.Manifest{TrustLevel: manifest.TrustTrusted, Reversibility: manifest.ReversibilityFull, Retention: manifest.RetentionEphemeral},
			want: 10,
		},
		{
			name: "standard with full reversibility",
			m:    manifest.Manifest{TrustLevel: manifest.TrustStandard, Reversibility: manifest.ReversibilityFull, Retention: manifest.RetentionSession},
			want: 7,
		},
		{
			name: "partial reversibility counts the same as full",
			m:    manifest.Manifest{TrustLevel: manifest.TrustStandard, Reversibility: manifest.ReversibilityPartial, Retention: manifest.RetentionSession},
			want: 7,
		},
		{
			name: "unknown permanent",
			m:    manifest.Manifest{TrustLevel: manifest.TrustUnknown, Reversibility: manifest.ReversibilityNone, Retention: manifest.RetentionPermanent},
			want: 1,
		},
		{
			name: "max clamp",
			m:    manifest.Manifest{TrustLevel: manifest.TrustVerifiedPartner, Reversibility: manifest.ReversibilityFull, Retention: manifest.RetentionEphemeral},
			want: 10,
		},
		{
			name: "min clamp",
			m: manifest.Manifest{
				TrustLevel:      manifest.TrustUntrusted,
				Reversibility:   manifest.ReversibilityNone,
				Retention:       manifest.RetentionPermanent,
				HumanInLoop:     true,
				TrainingConsent: true,
			},
			want: 0,
		},
		{
			name: "human in loop costs two",
			m:    manifest.Manifest{TrustLevel: manifest.TrustTrusted, Reversibility: manifest.ReversibilityNone, Retention: manifest.RetentionSession, HumanInLoop: true},
			want: 5,
		},
		{
			name: "training consent costs one",
			m:    manifest.Manifest{TrustLevel: manifest.TrustTrusted, Reversibility: manifest.ReversibilityNone, Retention: manifest.RetentionSession, TrainingConsent: true},
			want: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.m); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

var allLevels = []manifest.TrustLevel{
	manifest.TrustVerifiedPartner, manifest.TrustTrusted, manifest.TrustStandard,
	manifest.TrustUnknown, manifest.TrustUntrusted,
}

var allReversibilities = []manifest.Reversibility{
	manifest.ReversibilityFull, manifest.ReversibilityPartial, manifest.ReversibilityNone,
}

var allRetentions = []manifest.Retention{
	manifest.RetentionEphemeral, manifest.RetentionSession, manifest.RetentionPermanent,
}

func TestScoreAlwaysInRange(t *testing.T) {
	for _, lvl := range allLevels {
		for _, rev := range allReversibilities {
			for _, ret := range allRetentions {
				for _, hil := range []bool{false, true} {
					for _, tc := range []bool{false, true} {
						m := manifest.Manifest{
							TrustLevel:      lvl,
							Reversibility:   rev,
							Retention:       ret,
							HumanInLoop:     hil,
							TrainingConsent: tc,
						}
						s := Score(m)
						if s < 0 || s > 10 {
							t.Errorf("Score(%+v) = %d, out of [0,10]", m, s)
						}
					}
				}
			}
		}
	}
}

func TestHumanInLoopNeverRaisesScore(t *testing.T) {
	for _, lvl := range allLevels {
		for _, rev := range allReversibilities {
			for _, ret := range allRetentions {
				base := manifest.Manifest{TrustLevel: lvl, Reversibility: rev, Retention: ret}
				withHIL := base
				withHIL.HumanInLoop = true
				if Score(withHIL) > Score(base) {
					t.Errorf("human_in_loop raised score for %+v", base)
				}
			}
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	m := manifest.Manifest{TrustLevel: manifest.TrustStandard, Reversibility: manifest.ReversibilityFull, Retention: manifest.RetentionEphemeral}
	first := Score(m)
	for i := 0; i < 100; i++ {
		if got := Score(m); got != first {
			t.Fatalf("Score not deterministic: %d then %d", first, got)
		}
	}
}
