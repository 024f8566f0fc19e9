package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/providers"
)

// DefaultForwardTimeout caps how long a subagent worker waits for the
// parent to answer one forwarded tool call.
const DefaultForwardTimeout = 300 * time.Second

// localOnlyTools are dispatched against the worker's own registry even
// when an upstream control socket exists: the task tools (so a child
// can't round-trip back into its own supervision), and the two tools
// whose whole point is the control socket itself.
var localOnlyTools = map[string]bool{
	"task":            true,
	"task_status":     true,
	"task_results":    true,
	"subagent_report": true,
	"emit_result":     true,
}

// isLocalOnly matches any of the name shapes a dispatch can arrive
// under: bare ("emit_result"), keyed ("builtin:emit_result"), or
// model-facing normalized ("builtin_emit_result").
func isLocalOnly(name string) bool {
	if localOnlyTools[name] {
		return true
	}
	if _, bare, ok := strings.Cut(name, ":"); ok && localOnlyTools[bare] {
		return true
	}
	return localOnlyTools[strings.TrimPrefix(name, "builtin_")]
}

// ForwardingExecutor is the tool dispatch surface of an execute-task
// worker. With an upstream control socket, every tool call except the
// local-only set is serialized into a tool_execution_request, executed
// by the parent supervisor, and the matching tool_execution_response
// returned as if the tool had run here — transparent to the model loop.
// Without a socket (degraded mode) everything runs locally.
type ForwardingExecutor struct {
	local   *ToolRegistry
	conn    *ControlConn
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan ControlMessage
}

func NewForwardingExecutor(local *ToolRegistry, conn *ControlConn) *ForwardingExecutor {
	fe := &ForwardingExecutor{
		local:   local,
		conn:    conn,
		timeout: DefaultForwardTimeout,
		pending: make(map[string]chan ControlMessage),
	}
	if conn != nil {
		go fe.readLoop()
	}
	return fe
}

// Local exposes the worker's own registry, for building tool schemas.
func (fe *ForwardingExecutor) Local() *ToolRegistry { return fe.local }

// readLoop routes inbound tool_execution_response frames to their
// waiting callers. It exits when the socket dies; outstanding waiters
// then run out their timeouts.
func (fe *ForwardingExecutor) readLoop() {
	for {
		msg, err := fe.conn.Recv()
		if err != nil {
			return
		}
		if msg.Type != ctrlTypeToolExecutionResponse {
			continue
		}
		fe.mu.Lock()
		ch, ok := fe.pending[msg.RequestID]
		delete(fe.pending, msg.RequestID)
		fe.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// ExecuteWithContext dispatches one tool call, forwarding upstream when
// a control socket exists and the tool is not local-only.
func (fe *ForwardingExecutor) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) (string, error) {
	if fe.conn == nil || isLocalOnly(name) {
		return fe.local.ExecuteWithContext(ctx, name, args, channel, chatID)
	}

	requestID := uuid.NewString()
	respCh := make(chan ControlMessage, 1)
	fe.mu.Lock()
	fe.pending[requestID] = respCh
	fe.mu.Unlock()

	err := fe.conn.Send(ControlMessage{
		Type:      ctrlTypeToolExecutionRequest,
		RequestID: requestID,
		ToolKey:   name,
		ToolArgs:  args,
	})
	if err != nil {
		fe.mu.Lock()
		delete(fe.pending, requestID)
		fe.mu.Unlock()
		logger.WarnCF("subagent", "forwarding failed, executing locally",
			map[string]interface{}{"tool": name, "error": err.Error()})
		return fe.local.ExecuteWithContext(ctx, name, args, channel, chatID)
	}

	timer := time.NewTimer(fe.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.Success {
			return fmt.Sprintf("Error executing tool %s: %s", name, resp.Error), nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		fe.dropPending(requestID)
		return "Tool execution cancelled", nil
	case <-timer.C:
		fe.dropPending(requestID)
		return fmt.Sprintf("Error: forwarded tool %s timed out after %s", name, fe.timeout), nil
	}
}

func (fe *ForwardingExecutor) dropPending(requestID string) {
	fe.mu.Lock()
	delete(fe.pending, requestID)
	fe.mu.Unlock()
}

// forwardedTool is a worker-side placeholder for one of the parent's
// remote tools: it contributes the real name/schema to the worker's
// model-facing catalog, while actual invocations are intercepted by the
// ForwardingExecutor and sent upstream. Its Execute only ever runs in
// degraded mode (no control socket), where the remote server is
// unreachable by definition.
type forwardedTool struct {
	spec RemoteToolSpec
}

func (t *forwardedTool) Name() string        { return t.spec.Name }
func (t *forwardedTool) Description() string { return t.spec.Description }

func (t *forwardedTool) Parameters() map[string]interface{} {
	if t.spec.Parameters == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return t.spec.Parameters
}

func (t *forwardedTool) Execute(context.Context, map[string]interface{}) (string, error) {
	return fmt.Sprintf("Error: tool %s:%s is served by the parent agent, which is unreachable", t.spec.Origin, t.spec.Name), nil
}

// RegisterForwardedTools seeds a worker's registry with the parent's
// remote tool catalog, so a subagent sees and can call the same tool
// servers its parent is connected to.
func RegisterForwardedTools(registry *ToolRegistry, specs []RemoteToolSpec) {
	for _, spec := range specs {
		registry.RegisterOrigin(spec.Origin, &forwardedTool{spec: spec})
	}
}

// ExecuteToolCalls runs a batch of model-requested tool calls through
// the forwarding dispatch, sequentially in call order — the worker's
// single-turn loop awaits each result, and the parent already services
// distinct children concurrently.
func (fe *ForwardingExecutor) ExecuteToolCalls(ctx context.Context, toolCalls []providers.ToolCall) []providers.Message {
	results := make([]providers.Message, 0, len(toolCalls))
	for _, tc := range toolCalls {
		result, err := fe.ExecuteWithContext(ctx, tc.Name, tc.Arguments, "", "")
		if err != nil {
			result = fmt.Sprintf("Error: %v", err)
		}
		results = append(results, providers.ToolResultMessage(tc.ID, result))
	}
	return results
}
