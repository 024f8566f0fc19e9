package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/corvid/agentkit/pkg/config"
)

// stdioClient speaks the MCP stdio transport to a child process.
type stdioClient struct {
	name   string
	client *mcpclient.Client
}

func newStdioClient(ctx context.Context, name string, cfg *config.MCPServerConfig) (RemoteToolClient, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: start server %q: %w", name, err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpproto.Implementation{Name: "agentkit", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp: initialize server %q: %w", name, err)
	}

	return &stdioClient{name: name, client: c}, nil
}

func (s *stdioClient) Name() string { return s.name }

func (s *stdioClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := s.client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %q: %w", s.name, err)
	}

	infos := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := map[string]interface{}{"type": "object"}
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			var m map[string]interface{}
			if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
				schema = m
			}
		}
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return infos, nil
}

func (s *stdioClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (string, error) {
	req := mcpproto.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s on %q: %w", toolName, s.name, err)
	}

	contents := make([]Content, 0, len(res.Content))
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcpproto.TextContent:
			contents = append(contents, TextContent(tc.Text))
		case *mcpproto.TextContent:
			contents = append(contents, TextContent(tc.Text))
		case mcpproto.ImageContent:
			contents = append(contents, BinaryContent{MimeType: tc.MIMEType, Data: []byte(tc.Data)})
		default:
			if raw, err := json.Marshal(c); err == nil {
				contents = append(contents, RawContent(raw))
			}
		}
	}

	text := JoinContentText(contents)
	if res.IsError {
		return "", fmt.Errorf("call %s on %q: %s", toolName, s.name, text)
	}
	return text, nil
}

func (s *stdioClient) Close() error {
	return s.client.Close()
}
