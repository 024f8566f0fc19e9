package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/telemetry"
)

// Tool is anything the dispatcher can invoke by name.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolDescriptor is the registry's record for one registered tool: its
// unique key ("<origin>:<name>"), the origin that registered it
// (builtin, or a configured MCP server name), and a transport handle
// that is nil for built-ins and a live remote-client reference for
// tools backed by a remote MCP server.
type ToolDescriptor struct {
	Key             string
	Origin          string
	Name            string
	Tool            Tool
	TransportHandle interface{}
}

// ToolRegistry holds the set of tools available for dispatch, plus the
// execution policy gating them. Tools are keyed by "<origin>:<name>";
// dispatch also accepts a bare tool name (the shape models actually
// produce in tool calls), resolved through a short-name index where the
// most recently registered tool under that name wins.
type ToolRegistry struct {
	mu     sync.RWMutex
	byKey  map[string]*ToolDescriptor
	byName map[string]string
	byNorm map[string]string
	policy ToolExecutionPolicy
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		byKey:  make(map[string]*ToolDescriptor),
		byName: make(map[string]string),
		byNorm: make(map[string]string),
	}
}

// normalizeKey rewrites a registry key into the shape chat-completion
// APIs accept as a function name (no ":" allowed). The mapping stays a
// bijection over the registered key set as long as origins and tool
// names avoid "_"-collisions like "a_b:c" vs "a:b_c"; lookup resolves
// normalized names back through byNorm.
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

// SetExecutionPolicy installs the allow/deny gate applied before every
// dispatch.
func (r *ToolRegistry) SetExecutionPolicy(policy ToolExecutionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Register registers a built-in tool under the "builtin" origin.
func (r *ToolRegistry) Register(t Tool) {
	r.RegisterRemote("builtin", t, nil)
}

// RegisterOrigin registers t under an arbitrary origin (e.g. an MCP
// server name) with no transport handle.
func (r *ToolRegistry) RegisterOrigin(origin string, t Tool) {
	r.RegisterRemote(origin, t, nil)
}

// RegisterRemote registers t under origin, recording transportHandle so
// RemoveOrigin can tear it down on disconnect. Registering a key that
// already exists overwrites its descriptor, matching the registry's
// remote-reconnect semantics.
func (r *ToolRegistry) RegisterRemote(origin string, t Tool, transportHandle interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := origin + ":" + t.Name()
	r.byKey[key] = &ToolDescriptor{
		Key:             key,
		Origin:          origin,
		Name:            t.Name(),
		Tool:            t,
		TransportHandle: transportHandle,
	}
	r.byName[t.Name()] = key
	r.byNorm[normalizeKey(key)] = key
}

// RemoveOrigin deregisters every descriptor registered under origin.
// Mandatory on remote-server disconnect, so a dead transport handle
// never lingers behind a stale descriptor.
func (r *ToolRegistry) RemoveOrigin(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, d := range r.byKey {
		if d.Origin != origin {
			continue
		}
		delete(r.byKey, key)
		delete(r.byNorm, normalizeKey(key))
		if r.byName[d.Name] == key {
			delete(r.byName, d.Name)
		}
	}
}

func (r *ToolRegistry) lookup(name string) (*ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byKey[name]; ok {
		return d, true
	}
	if key, ok := r.byNorm[name]; ok {
		return r.byKey[key], true
	}
	if key, ok := r.byName[name]; ok {
		return r.byKey[key], true
	}
	return nil, false
}

// Get returns a registered tool by key or bare name, for callers that
// need the concrete type (e.g. wiring a send callback onto the message
// tool).
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	d, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return d.Tool, true
}

// List returns every registered tool's key.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for key := range r.byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Execute runs a tool with no channel/chat-id execution context attached.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return r.ExecuteWithContext(ctx, name, args, "", "")
}

// ExecuteWithContext runs a tool, attaching the origin channel/chat-id
// as hidden execution-context keys so tools that need to address a
// reply (the task tool routing subagent reports) know where the call
// came from. A lookup miss is not a Go error: it is reported back as
// the dispatcher's literal result text, exactly as the model would see
// any other tool failure.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) (string, error) {
	if err := r.policy.check(name); err != nil {
		return "", err
	}

	d, ok := r.lookup(name)
	if !ok {
		return fmt.Sprintf("Error: Tool %s not found. Available: %v", name, r.firstKeys(10)), nil
	}

	ctx, span := telemetry.StartToolSpan(ctx, d.Key, d.Origin)
	execArgs := execContext{Channel: channel, ChatID: chatID}.apply(args)
	result, err := d.Tool.Execute(ctx, execArgs)
	telemetry.EndToolSpan(ctx, span, d.Key, err)
	return result, err
}

// ExecuteWithKeepalive runs a tool dispatch asynchronously, sending a
// "still running" status line to statusCh every interval while the call
// is pending. Cancelling ctx (e.g. an ESC interrupt raised by the input
// handler) aborts the wait and returns the spec's fixed cancellation
// text; it does not itself kill the underlying tool call, which is
// expected to observe ctx cancellation on its own blocking operations.
func (r *ToolRegistry) ExecuteWithKeepalive(ctx context.Context, name string, args map[string]interface{}, channel, chatID string, interval time.Duration, statusCh chan<- string) (string, error) {
	type outcome struct {
		result string
		err    error
	}
	doneCh := make(chan outcome, 1)
	go func() {
		result, err := r.ExecuteWithContext(ctx, name, args, channel, chatID)
		doneCh <- outcome{result, err}
	}()

	key := name
	if d, ok := r.lookup(name); ok {
		key = d.Key
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "Tool execution cancelled", nil
		case o := <-doneCh:
			return o.result, o.err
		case <-ticker.C:
			if statusCh == nil {
				continue
			}
			elapsed := int(time.Since(start).Seconds())
			line := fmt.Sprintf("⏳ Tool %s still running… (%ds elapsed), press ESC to cancel", key, elapsed)
			select {
			case statusCh <- line:
			default:
			}
		}
	}
}

func (r *ToolRegistry) firstKeys(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for key := range r.byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// GetDefinitions returns the OpenAI-style tool schema for every registered
// tool, for sending to a model.
func (r *ToolRegistry) GetDefinitions() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]interface{}, 0, len(r.byKey))
	for _, d := range r.byKey {
		defs = append(defs, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        normalizeKey(d.Key),
				"description": d.Tool.Description(),
				"parameters":  d.Tool.Parameters(),
			},
		})
	}
	return defs
}

// RemoteToolSpecs returns serializable descriptors for every tool whose
// origin is not builtin, for handing a subagent worker the parent's
// remote catalog through its task file.
func (r *ToolRegistry) RemoteToolSpecs() []RemoteToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]RemoteToolSpec, 0)
	for _, d := range r.byKey {
		if d.Origin == "builtin" {
			continue
		}
		specs = append(specs, RemoteToolSpec{
			Origin:      d.Origin,
			Name:        d.Name,
			Description: d.Tool.Description(),
			Parameters:  d.Tool.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Origin != specs[j].Origin {
			return specs[i].Origin < specs[j].Origin
		}
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// GetSummaries returns one human-readable "- key: description" line per
// tool, for building a system-prompt tool catalog.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(r.byKey))
	for _, d := range r.byKey {
		lines = append(lines, fmt.Sprintf("- %s: %s", d.Key, d.Tool.Description()))
	}
	sort.Strings(lines)
	return lines
}

// GetProviderDefinitions returns the registered tools as provider-ready
// ToolDefinition values, for passing directly to LLMProvider.Chat. The
// model-facing name is the normalized registry key (":" rewritten to
// "_", since most providers constrain function names to a narrow
// charset); lookup reverses the mapping when the model calls back.
func (r *ToolRegistry) GetProviderDefinitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.byKey))
	for _, d := range r.byKey {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        normalizeKey(d.Key),
				Description: d.Tool.Description(),
				Parameters:  d.Tool.Parameters(),
			},
		})
	}
	return defs
}
