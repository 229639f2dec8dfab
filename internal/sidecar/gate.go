package sidecar

import "sync"

// gate enforces a target's declared concurrency_limit: at most N in-flight
// forwards per agent. Zero or negative limits mean unlimited. Saturation is
// a retryable rejection, not a policy decision.
type gate struct {
	mu       sync.Mutex
	inflight map[string]int
}

func newGate() *gate {
	return &gate{inflight: make(map[string]int)}
}

// acquire reserves a forwarding slot for the agent. Returns false when the
// agent is already at its declared limit.
func (g *gate) acquire(agentID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[agentID] >= limit {
		return false
	}
	g.inflight[agentID]++
	return true
}

// release frees a slot reserved by acquire. Unlimited agents have no slot
// to free.
func (g *gate) release(agentID string, limit int) {
	if limit <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[agentID] > 0 {
		g.inflight[agentID]--
	}
}
