package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/corvid/agentkit/pkg/config"
	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/tools"
)

// Manager owns the set of live tool-server connections and keeps the
// tool registry in sync with them: connect discovers and registers,
// disconnect deregisters the origin and tears the transport down.
type Manager struct {
	mu       sync.Mutex
	clients  map[string]RemoteToolClient
	registry *tools.ToolRegistry
}

func NewManager(registry *tools.ToolRegistry) *Manager {
	return &Manager{
		clients:  make(map[string]RemoteToolClient),
		registry: registry,
	}
}

// ConnectAll connects every configured server, logging and skipping the
// ones that fail rather than aborting startup.
func (m *Manager) ConnectAll(ctx context.Context, servers map[string]*config.MCPServerConfig) {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.ConnectServer(ctx, name, servers[name]); err != nil {
			logger.WarnCF("mcp", "failed to connect tool server",
				map[string]interface{}{"server": name, "error": err.Error()})
		}
	}
}

// ConnectServer connects one server and registers its discovered tools
// under the server's name as origin. Reconnecting an already-connected
// name tears the old connection down first, so the registry never holds
// two transport handles for one origin.
func (m *Manager) ConnectServer(ctx context.Context, name string, cfg *config.MCPServerConfig) error {
	m.mu.Lock()
	if old, ok := m.clients[name]; ok {
		m.registry.RemoveOrigin(name)
		_ = old.Close()
		delete(m.clients, name)
	}
	m.mu.Unlock()

	client, err := Connect(ctx, name, cfg)
	if err != nil {
		return err
	}

	infos, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return err
	}

	for _, info := range infos {
		m.registry.RegisterRemote(name, newRemoteTool(client, info), client)
	}

	m.mu.Lock()
	m.clients[name] = client
	m.mu.Unlock()

	logger.InfoCF("mcp", fmt.Sprintf("connected tool server %s (%d tools)", name, len(infos)),
		map[string]interface{}{"server": name, "tools": len(infos)})
	return nil
}

// Disconnect deregisters and closes one server's connection.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	client, ok := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()

	m.registry.RemoveOrigin(name)
	if ok {
		_ = client.Close()
	}
}

// Shutdown closes every live connection, for the orderly /quit path.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}

// ServerNames returns the connected servers, sorted.
func (m *Manager) ServerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// remoteTool adapts one discovered server tool to the registry's Tool
// interface. Transport failures come back as dispatcher-style error
// text, not Go errors, so the model can read and react to them.
type remoteTool struct {
	client RemoteToolClient
	info   ToolInfo
}

func newRemoteTool(client RemoteToolClient, info ToolInfo) *remoteTool {
	return &remoteTool{client: client, info: info}
}

func (t *remoteTool) Name() string        { return t.info.Name }
func (t *remoteTool) Description() string { return t.info.Description }

func (t *remoteTool) Parameters() map[string]interface{} {
	if t.info.InputSchema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return t.info.InputSchema
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	// The registry smuggles execution context through hidden arg keys;
	// those never leave the process.
	clean := make(map[string]interface{}, len(args))
	for k, v := range args {
		if strings.HasPrefix(k, "__context_") {
			continue
		}
		clean[k] = v
	}

	result, err := t.client.CallTool(ctx, t.info.Name, clean)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s:%s: %v", t.client.Name(), t.info.Name, err), nil
	}
	return result, nil
}
