package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/corvid/agentkit/pkg/tools"
)

type fakeClient struct {
	name     string
	closed   bool
	lastArgs map[string]interface{}
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) ListTools(context.Context) ([]ToolInfo, error) {
	return []ToolInfo{{Name: "lookup", Description: "Look a thing up"}}, nil
}

func (f *fakeClient) CallTool(_ context.Context, toolName string, args map[string]interface{}) (string, error) {
	f.lastArgs = args
	return "looked up", nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestRemoteTool_DispatchThroughRegistry(t *testing.T) {
	registry := tools.NewToolRegistry()
	client := &fakeClient{name: "search"}

	infos, _ := client.ListTools(context.Background())
	for _, info := range infos {
		registry.RegisterRemote(client.name, newRemoteTool(client, info), client)
	}

	result, err := registry.ExecuteWithContext(context.Background(), "search:lookup", map[string]interface{}{"q": "x"}, "cli", "direct")
	if err != nil {
		t.Fatalf("ExecuteWithContext() error: %v", err)
	}
	if result != "looked up" {
		t.Errorf("result = %q", result)
	}

	// Hidden execution-context keys must not leak to the remote server.
	for k := range client.lastArgs {
		if strings.HasPrefix(k, "__context_") {
			t.Errorf("context key %q leaked to remote server", k)
		}
	}
	if client.lastArgs["q"] != "x" {
		t.Errorf("real args not forwarded: %+v", client.lastArgs)
	}
}

func TestManager_DisconnectRemovesOriginAndCloses(t *testing.T) {
	registry := tools.NewToolRegistry()
	m := NewManager(registry)

	client := &fakeClient{name: "search"}
	infos, _ := client.ListTools(context.Background())
	for _, info := range infos {
		registry.RegisterRemote(client.name, newRemoteTool(client, info), client)
	}
	m.clients[client.name] = client

	if _, ok := registry.Get("search:lookup"); !ok {
		t.Fatal("tool not registered")
	}

	m.Disconnect("search")

	if _, ok := registry.Get("search:lookup"); ok {
		t.Error("tool still registered after disconnect")
	}
	if !client.closed {
		t.Error("transport not closed on disconnect")
	}
	if len(m.ServerNames()) != 0 {
		t.Errorf("ServerNames() = %v, want empty", m.ServerNames())
	}
}
