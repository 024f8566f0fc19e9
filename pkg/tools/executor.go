package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/utils"
)

type ExecuteToolCallsOptions struct {
	Channel     string
	ChatID      string
	Timeout     time.Duration
	MaxParallel int // <=0 means every call in the batch runs at once

	LogComponent string // default: "tool"
	Iteration    int

	// OnToolComplete fires once per finished call, in completion order.
	// Invocations are serialized; completed counts 1..total.
	OnToolComplete func(completed, total, index int, call providers.ToolCall, result providers.Message)
}

// ExecuteToolCalls runs one model turn's worth of tool calls on a
// bounded worker pool and returns the results in original call order.
// Every call produces exactly one result message: timeouts, dispatch
// errors, and even a panicking tool all come back as "Error: ..." text
// under the call's ID, never as a hole in the batch.
func (r *ToolRegistry) ExecuteToolCalls(
	ctx context.Context,
	toolCalls []providers.ToolCall,
	opts ExecuteToolCallsOptions,
) []providers.Message {
	n := len(toolCalls)
	if n == 0 {
		return nil
	}

	component := opts.LogComponent
	if component == "" {
		component = "tool"
	}
	workers := n
	if opts.MaxParallel > 0 && opts.MaxParallel < workers {
		workers = opts.MaxParallel
	}

	results := make([]providers.Message, n)
	pending := make(chan int)

	var completionMu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range pending {
				results[idx] = r.runOneCall(ctx, toolCalls[idx], opts, component)

				completionMu.Lock()
				completed++
				if opts.OnToolComplete != nil {
					opts.OnToolComplete(completed, n, idx, toolCalls[idx], results[idx])
				}
				completionMu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		pending <- i
	}
	close(pending)
	wg.Wait()

	return results
}

// runOneCall dispatches a single call under the per-call timeout,
// converting any failure mode into result text the model can read.
func (r *ToolRegistry) runOneCall(ctx context.Context, tc providers.ToolCall, opts ExecuteToolCallsOptions, component string) (msg providers.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF(component, "Recovered panic in tool execution",
				map[string]interface{}{
					"tool":      tc.Name,
					"iteration": opts.Iteration,
					"panic":     fmt.Sprintf("%v", rec),
				})
			msg = providers.ToolResultMessage(tc.ID, fmt.Sprintf("Error: tool %s panicked: %v", tc.Name, rec))
		}
	}()

	argsJSON, _ := json.Marshal(tc.Arguments)
	logger.InfoCF(component, fmt.Sprintf("Tool call: %s(%s)", tc.Name, utils.Truncate(string(argsJSON), 200)),
		map[string]interface{}{
			"tool":      tc.Name,
			"iteration": opts.Iteration,
		})

	toolCtx := ctx
	cancel := func() {}
	if opts.Timeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	result, err := r.ExecuteWithContext(toolCtx, tc.Name, tc.Arguments, opts.Channel, opts.ChatID)
	cancel()
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
	}

	return providers.ToolResultMessage(tc.ID, result)
}
