package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid/agentkit/pkg/conversation"
	"github.com/corvid/agentkit/pkg/llmloop"
	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/tools"
)

// executeTaskCmd is the internal subcommand the subagent supervisor
// re-invokes this binary with. It runs one non-interactive conversation
// turn for the task described in the given file, forwarding tool calls
// upstream over the control socket when one is available.
var executeTaskCmd = &cobra.Command{
	Use:    "execute-task <task-file>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context(), args[0])
	},
}

func runWorker(ctx context.Context, taskFilePath string) error {
	data, err := os.ReadFile(taskFilePath)
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}
	var tf tools.SubagentTaskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse task file: %w", err)
	}

	// Dial back to the parent. Best effort: without the socket the
	// worker degrades to local tool execution and the side-channel
	// result file.
	var cc *tools.ControlConn
	reporter := tools.NewNoopReporter()
	if tf.CommPort > 0 {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tf.CommPort)), 5*time.Second)
		if err != nil {
			logger.WarnCF("worker", "cannot reach parent control socket, running degraded",
				map[string]interface{}{"task_id": tf.TaskID, "error": err.Error()})
		} else {
			cc = tools.NewControlConn(conn)
			defer cc.Close()
			reporter = tools.NewControlConnReporter(cc)
		}
	}

	registry := tools.NewSubagentLocalRegistry(tf.Workspace, reporter)
	// The parent's remote tools appear in this worker's schema too;
	// calling one round-trips through the control socket.
	tools.RegisterForwardedTools(registry, tf.RemoteTools)
	executor := tools.NewForwardingExecutor(registry, cc)

	provider, err := providers.CreateProviderFromBackend(ctx, &tf.Backend)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	messages := []providers.Message{
		{Role: "system", Content: tools.BuildSubagentSystemPrompt(tf.Workspace, registry)},
		{Role: "user", Content: tf.Prompt},
	}

	result, runErr := llmloop.Run(ctx, llmloop.RunOptions{
		Provider:      provider,
		Model:         tf.Backend.Model,
		MaxIterations: 25,
		LLMTimeout:    120 * time.Second,
		ChatOptions:   providers.ChatOptions{MaxTokens: 8192, Temperature: 0.7},
		// The worker has no compaction pass; the message budget is what
		// keeps a tool-heavy task inside the model's context window.
		MessageBudget: providers.BudgetFromContextWindow(conversation.TokenLimit(tf.Backend.Model)),
		Messages:      messages,
		BuildToolDefs: func(int, []providers.Message) []providers.ToolDefinition {
			return registry.GetProviderDefinitions()
		},
		ExecuteTools: func(ctx context.Context, toolCalls []providers.ToolCall, _ int) []providers.Message {
			return executor.ExecuteToolCalls(ctx, toolCalls)
		},
		Hooks: llmloop.Hooks{
			MessagesBudgeted: func(iteration int, stats providers.MessageBudgetStats) {
				logger.InfoCF("worker", "request payload budgeted", map[string]interface{}{
					"task_id":   tf.TaskID,
					"iteration": iteration,
					"dropped":   stats.DroppedMessages,
					"truncated": stats.TruncatedMessages,
				})
			},
			LLMCallFailed: func(iteration int, err error) {
				logger.WarnCF("worker", "model call failed", map[string]interface{}{
					"task_id":   tf.TaskID,
					"iteration": iteration,
					"error":     err.Error(),
				})
			},
		},
	})

	finalResult := result.FinalContent
	if runErr != nil {
		finalResult = fmt.Sprintf("Subagent failed: %v", runErr)
	} else if result.Exhausted {
		finalResult = "Subagent reached its tool iteration limit before finishing."
	}

	// The result file is the fallback path: written first, so the
	// supervisor can still recover the result if the frame below never
	// arrives.
	if tf.ResultFile != "" {
		if err := os.WriteFile(tf.ResultFile, []byte(finalResult), 0o600); err != nil {
			logger.WarnCF("worker", "cannot write result file",
				map[string]interface{}{"task_id": tf.TaskID, "error": err.Error()})
		}
	}
	if cc != nil {
		if err := tools.SendResult(cc, finalResult); err != nil {
			logger.WarnCF("worker", "cannot send result upstream",
				map[string]interface{}{"task_id": tf.TaskID, "error": err.Error()})
		}
	}

	return runErr
}
