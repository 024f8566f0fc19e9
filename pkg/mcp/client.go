// Package mcp connects agentkit to external tool servers. Each
// configured server is spoken to over one of two transports — a stdio
// child process driven through the MCP protocol, or a websocket
// endpoint — and its discovered tools are registered into the tool
// registry under the server's name as origin, so the dispatcher can
// route "<server>:<tool>" keys to the right live connection.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvid/agentkit/pkg/config"
)

// ToolInfo is one tool discovered on a remote server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// RemoteToolClient is one live connection to a tool server.
// Reconnection is not automatic; the owner decides when to re-connect
// after Close.
type RemoteToolClient interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, toolName string, args map[string]interface{}) (string, error)
	Close() error
}

// Connect builds the transport-appropriate client for one configured
// server and performs the initial handshake.
func Connect(ctx context.Context, name string, cfg *config.MCPServerConfig) (RemoteToolClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mcp: server %q has no configuration", name)
	}
	transport := cfg.Transport
	if transport == "" {
		if strings.HasPrefix(cfg.Command, "ws://") || strings.HasPrefix(cfg.Command, "wss://") {
			transport = "ws"
		} else {
			transport = "stdio"
		}
	}

	switch transport {
	case "stdio":
		return newStdioClient(ctx, name, cfg)
	case "ws":
		return newWSClient(ctx, name, cfg.Command)
	default:
		return nil, fmt.Errorf("mcp: server %q has unknown transport %q", name, transport)
	}
}
