package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/manifest"
)

func newTestServer(t *testing.T, manifestJSON string) *Server {
	t.Helper()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == manifest.DiscoveryPath:
			w.Write([]byte(manifestJSON))
		case r.Method == http.MethodPost && r.URL.Path == "/invoke":
			w.Write([]byte(`{"done":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(target.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		Listen:            ":0",
		Targets:           map[string]string{"billing": target.URL},
		PolicyPath:        filepath.Join(dir, "absent.yaml"),
		AuditLog:          filepath.Join(dir, "audit.jsonl"),
		CompensationDB:    filepath.Join(dir, "compensation.db"),
		ManifestTTL:       config.Duration(time.Minute),
		FetchTimeout:      config.Duration(time.Second),
		MaxForwardTimeout: config.Duration(2 * time.Second),
		CompensateTimeout: config.Duration(time.Second),
		DefaultUndoWindow: config.Duration(time.Minute),
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleCheckAllow(t *testing.T) {
	s := newTestServer(t, `{"trust_level":"trusted","reversibility":"full","retention":"ephemeral"}`)

	_, out, err := s.handleCheck(context.Background(), nil, CheckInput{
		AgentID: "billing",
		Payload: `{"hello":"world"}`,
	})
	if err != nil {
		t.Fatalf("handleCheck() error: %v", err)
	}
	if out.Outcome != "allow" {
		t.Errorf("outcome = %s, want allow", out.Outcome)
	}
	if out.Score != 10 {
		t.Errorf("score = %d, want 10", out.Score)
	}
}

func TestHandleCheckFindings(t *testing.T) {
	s := newTestServer(t, `{"trust_level":"trusted","reversibility":"full","retention":"ephemeral"}`)

	_, out, err := s.handleCheck(context.Background(), nil, CheckInput{
		AgentID: "billing",
		Payload: `mail me at eve@example.com`,
	})
	if err != nil {
		t.Fatalf("handleCheck() error: %v", err)
	}
	if out.Outcome != "warn" {
		t.Errorf("outcome = %s, want warn for sensitive payload", out.Outcome)
	}
	if len(out.Findings) != 1 {
		t.Errorf("findings = %d, want 1", len(out.Findings))
	}
}

func TestHandleCallForwardsAndTraces(t *testing.T) {
	s := newTestServer(t, `{"trust_level":"trusted","reversibility":"none","retention":"ephemeral"}`)
	ctx := context.Background()

	res, out, err := s.handleCall(ctx, nil, CallInput{
		AgentID: "billing",
		Payload: `{"n":1}`,
	})
	if err != nil {
		t.Fatalf("handleCall() error: %v", err)
	}
	if res != nil && res.IsError {
		t.Fatalf("unexpected tool error: %+v", out)
	}
	if !out.Forwarded || out.Status != http.StatusOK {
		t.Fatalf("call not forwarded: %+v", out)
	}

	_, trace, err := s.handleTrace(ctx, nil, TraceInput{TraceID: out.TraceID})
	if err != nil {
		t.Fatalf("handleTrace() error: %v", err)
	}
	if len(trace.Records) != 2 {
		t.Errorf("trace records = %d, want 2", len(trace.Records))
	}
}

func TestHandleCallBlockedIsToolError(t *testing.T) {
	s := newTestServer(t, `{"trust_level":"untrusted","reversibility":"none","retention":"permanent"}`)

	res, out, err := s.handleCall(context.Background(), nil, CallInput{
		AgentID: "billing",
		Payload: `ssn 123-45-6789`,
	})
	if err != nil {
		t.Fatalf("handleCall() error: %v", err)
	}
	if res == nil || !res.IsError {
		t.Fatal("blocked call should surface as a tool error")
	}
	if out.Outcome != "block" {
		t.Errorf("outcome = %s, want block", out.Outcome)
	}
}

func TestHandleCompensateRequiresTarget(t *testing.T) {
	s := newTestServer(t, `{"trust_level":"trusted","reversibility":"full","retention":"ephemeral"}`)

	if _, _, err := s.handleCompensate(context.Background(), nil, CompensateInput{}); err == nil {
		t.Fatal("expected error when neither transaction_id nor saga_id is set")
	}
}
