// Package sidecar is the trust-enforcing intermediary between a calling
// agent and its targets. Every outbound call runs the same pipeline:
// discover the target's manifest, score it, inspect the payload, decide,
// then forward or reject — with every step durably recorded before the
// caller hears the answer.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/compensation"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/manifest"
	"github.com/ppiankov/trustgate/internal/policy"
)

// ErrAuditUnavailable means the flight recorder could not persist a record.
// Handlers map it to 503: a decision that cannot be recorded is not served.
var ErrAuditUnavailable = errors.New("sidecar: audit log unavailable")

// Server wires the registry, inspector, policy, flight recorder and
// compensation coordinator behind one HTTP surface.
type Server struct {
	cfg      *config.Config
	registry *manifest.Registry
	log      *audit.Log
	store    *compensation.Store
	client   *http.Client
	gate     *gate

	mu         sync.RWMutex // guards policyCfg and policyHash across hot reload
	policyCfg  *policy.Config
	policyHash string

	srv *http.Server
}

// NewServer constructs a fully wired sidecar from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	log, err := audit.Open(cfg.AuditLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	store, err := compensation.OpenStore(cfg.CompensationDB)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open compensation store: %w", err)
	}

	registry := manifest.NewRegistry(cfg.Targets,
		manifest.WithTTL(cfg.ManifestTTL.Std()),
		manifest.WithFetchTimeout(cfg.FetchTimeout.Std()),
	)

	s := &Server{
		cfg:        cfg,
		registry:   registry,
		log:        log,
		store:      store,
		client:     &http.Client{},
		gate:       newGate(),
		policyCfg:  policyCfg,
		policyHash: policyHash,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/{agent}", s.handleCall)
	mux.HandleFunc("GET /trace/{id}", s.handleTrace)
	mux.HandleFunc("POST /compensate/saga/{id}", s.handleCompensateSaga)
	mux.HandleFunc("POST /compensate/{txid}", s.handleCompensate)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	return s, nil
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP surface.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close releases the flight recorder and compensation store.
func (s *Server) Close() error {
	var first error
	if err := s.log.Close(); err != nil {
		first = err
	}
	if err := s.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Handler exposes the HTTP surface for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ReloadPolicy re-reads the policy file and swaps it in atomically.
// In-flight requests keep the config they started with.
func (s *Server) ReloadPolicy() error {
	cfg, hash, err := policy.LoadConfigWithHash(s.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy config: %w", err)
	}
	s.mu.Lock()
	s.policyCfg = cfg
	s.policyHash = hash
	s.mu.Unlock()
	return nil
}

func (s *Server) policySnapshot() (*policy.Config, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyCfg, s.policyHash
}

// AuditLog exposes the flight recorder for the MCP surface and tests.
func (s *Server) AuditLog() *audit.Log {
	return s.log
}

// Store exposes the compensation coordinator for the MCP surface and tests.
func (s *Server) Store() *compensation.Store {
	return s.store
}
