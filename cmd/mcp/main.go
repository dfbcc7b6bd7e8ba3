// Command mcp serves Guardian's analysis operations as MCP tools over stdio.
//
// It is a thin client of a running guardian API:
//
//	GUARDIAN_API_URL     API root (default http://localhost:8080)
//	GUARDIAN_CONTEXT_ID  source context id sent with each message (default "mcp")
package main

import (
	"cmp"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/guardian/internal/mcpserver"
)

func main() {
	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := mcpserver.Config{
		APIURL:    cmp.Or(os.Getenv("GUARDIAN_API_URL"), "http://localhost:8080"),
		ContextID: cmp.Or(os.Getenv("GUARDIAN_CONTEXT_ID"), "mcp"),
	}
	logger.Info("guardian mcp starting", "api", cfg.APIURL, "context_id", cfg.ContextID)

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
