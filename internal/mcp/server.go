// Package mcp exposes the sidecar's check/call/compensate/trace operations
// as Model Context Protocol tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/sidecar"
)

// Server wraps the MCP SDK server around a fully wired sidecar.
type Server struct {
	mcpServer *mcpsdk.Server
	sidecar   *sidecar.Server
}

// New creates an MCP server over the given configuration. The sidecar's
// HTTP surface is not started; tools drive the pipeline directly.
func New(cfg *config.Config) (*Server, error) {
	sc, err := sidecar.NewServer(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{sidecar: sc}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustgate",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the sidecar's stores.
func (s *Server) Close() error {
	return s.sidecar.Close()
}

// registerTools adds all trustgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_check",
		Description: "Dry-run a call: discover the target's manifest, score it, inspect the payload, and report the policy decision without forwarding anything.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_call",
		Description: "Call a target agent through trust enforcement. Blocked or quarantined calls return the structured rejection instead of a response.",
	}, s.handleCall)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_compensate",
		Description: "Undo a previously forwarded reversible call by transaction id, or roll back a whole saga in reverse call order.",
	}, s.handleCompensate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_trace",
		Description: "Fetch the ordered audit records for a trace id.",
	}, s.handleTrace)
}
