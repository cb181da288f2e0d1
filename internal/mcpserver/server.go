// Package mcpserver exposes the running scheduler's telemetry over MCP
// (stdio transport) so an AI agent or external tool can query regime,
// latency, and profile-cache state without parsing the one-line log
// format.
package mcpserver

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/profilecache"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// StateProvider supplies a point-in-time snapshot of scheduler state.
// The supervisor implements this over its live Engine/Worker instances.
type StateProvider interface {
	Regime() knobs.Regime
	Hibernating() bool
	KnobSnapshot() knobs.Snapshot
	StatsTotals() telemetry.Totals
	ProfileCacheLen() int
	ProfileCacheConfident() int
	ProfileCacheEntries() []profilecache.Entry
}

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with telemetry tools bound to state.
func NewServer(version string, state StateProvider) *Server {
	s := server.NewMCPServer("pandemonium", version, server.WithLogging())
	registerTools(s, state)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, state StateProvider) {
	telemetryTool := mcp.NewTool("get_telemetry",
		mcp.WithDescription("Current scheduler telemetry: dispatch counts, preemption/kick counts, average wake-to-run latency, knob values. Fast, no root required."),
	)
	s.AddTool(telemetryTool, handleGetTelemetry(state))

	regimeTool := mcp.NewTool("get_regime",
		mcp.WithDescription("Current adaptive-control regime (light/mixed/heavy), whether stability hibernation is active, and the active knob baseline."),
	)
	s.AddTool(regimeTool, handleGetRegime(state))

	cacheTool := mcp.NewTool("get_profile_cache_stats",
		mcp.WithDescription("Process behavior profile cache stats: total entries, confident entries, and optionally the full entry list."),
		mcp.WithString("detail",
			mcp.Description("Set to 'full' to include every cached entry; omit for just the counts."),
			mcp.DefaultString("summary"),
			mcp.Enum("summary", "full"),
		),
	)
	s.AddTool(cacheTool, handleGetProfileCacheStats(state))
}
