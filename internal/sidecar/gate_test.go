package sidecar

import "testing"

func TestGateEnforcesLimit(t *testing.T) {
	g := newGate()

	if !g.acquire("a", 2) || !g.acquire("a", 2) {
		t.Fatal("first two slots should be granted")
	}
	if g.acquire("a", 2) {
		t.Fatal("third slot must be refused at limit 2")
	}
	g.release("a", 2)
	if !g.acquire("a", 2) {
		t.Fatal("slot should be granted again after release")
	}
}

func TestGateUnlimitedWhenNoLimit(t *testing.T) {
	g := newGate()
	for i := 0; i < 100; i++ {
		if !g.acquire("a", 0) {
			t.Fatal("zero limit must never refuse")
		}
	}
	g.release("a", 0) // no-op, must not underflow
	if g.inflight["a"] != 0 {
		t.Errorf("unlimited agent tracked in-flight count: %d", g.inflight["a"])
	}
}

func TestGatePerAgentIsolation(t *testing.T) {
	g := newGate()
	if !g.acquire("a", 1) {
		t.Fatal("agent a should get its slot")
	}
	if !g.acquire("b", 1) {
		t.Fatal("agent b must not be affected by agent a's saturation")
	}
	if g.acquire("a", 1) {
		t.Fatal("agent a should be saturated")
	}
}
