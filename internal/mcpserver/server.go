package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Guardian tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("guardian", "1.0.0")
	client := NewGuardianClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolAnalyzeSigningRequest, h.HandleAnalyzeSigningRequest)
	s.AddTool(ToolAnalyzeWalletConnection, h.HandleAnalyzeWalletConnection)
	s.AddTool(ToolListPendingActions, h.HandleListPendingActions)
	s.AddTool(ToolDecidePendingAction, h.HandleDecidePendingAction)

	return s
}
