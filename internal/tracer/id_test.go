package tracer

import (
	"regexp"
	"testing"
)

func TestNewTraceIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^t-[0-9a-f]{12}$`)
	for i := 0; i < 100; i++ {
		id := NewTraceID()
		if !re.MatchString(id) {
			t.Fatalf("trace id %q does not match expected format", id)
		}
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTraceID()
		if seen[id] {
			t.Fatalf("duplicate trace id %q", id)
		}
		seen[id] = true
	}
}

func TestUTCNowISO(t *testing.T) {
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)
	if ts := UTCNowISO(); !re.MatchString(ts) {
		t.Errorf("timestamp %q not in expected format", ts)
	}
}
