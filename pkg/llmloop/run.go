// Package llmloop drives the model/tool-call iteration at the heart of
// a non-interactive turn: call the model, execute whatever tools it
// asked for, feed the results back, repeat until it answers in prose or
// the iteration budget runs out. The execute-task subagent worker runs
// its single conversation turn through this loop.
package llmloop

import (
	"context"
	"time"

	"github.com/corvid/agentkit/pkg/providers"
)

// Hooks are optional observation points. Each is invoked synchronously
// from inside the loop; nil hooks are skipped.
type Hooks struct {
	// MessagesBudgeted fires when payload budgeting actually changed the
	// request (messages dropped or truncated).
	MessagesBudgeted func(iteration int, stats providers.MessageBudgetStats)
	// ToolCallsRequested fires before the requested tools execute.
	ToolCallsRequested func(iteration int, toolCalls []providers.ToolCall)
	// LLMCallFailed fires when a model call errors; Run then returns
	// that error.
	LLMCallFailed func(iteration int, err error)
}

type RunOptions struct {
	Provider      providers.LLMProvider
	Model         string
	MaxIterations int
	LLMTimeout    time.Duration
	ChatOptions   providers.ChatOptions
	MessageBudget providers.MessageBudget
	Messages      []providers.Message

	BuildToolDefs func(iteration int, messages []providers.Message) []providers.ToolDefinition
	ExecuteTools  func(ctx context.Context, toolCalls []providers.ToolCall, iteration int) []providers.Message

	Hooks Hooks
}

type RunResult struct {
	Messages     []providers.Message
	FinalContent string
	Iterations   int
	Exhausted    bool
}

// Run executes the iteration loop. FinalContent is set once the model
// stops requesting tools; Exhausted reports that the iteration budget
// ran out while it was still asking for them.
func Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	result := RunResult{
		Messages:  append([]providers.Message(nil), opts.Messages...),
		Exhausted: true,
	}

	if opts.MaxIterations <= 0 {
		return result, nil
	}

	for iteration := 1; iteration <= opts.MaxIterations; iteration++ {
		result.Iterations = iteration

		// The accumulated transcript is budgeted per request, not
		// mutated in place: later iterations always budget from the
		// full history again.
		requestMessages := result.Messages
		if opts.MessageBudget.Enabled() {
			budgeted, stats := providers.ApplyMessageBudget(result.Messages, opts.MessageBudget)
			requestMessages = budgeted
			if opts.Hooks.MessagesBudgeted != nil && stats.Changed() {
				opts.Hooks.MessagesBudgeted(iteration, stats)
			}
		}

		var toolDefs []providers.ToolDefinition
		if opts.BuildToolDefs != nil {
			toolDefs = opts.BuildToolDefs(iteration, requestMessages)
		}

		resp, err := chat(ctx, opts, requestMessages, toolDefs)
		if err != nil {
			if opts.Hooks.LLMCallFailed != nil {
				opts.Hooks.LLMCallFailed(iteration, err)
			}
			return result, err
		}

		if len(resp.ToolCalls) == 0 {
			result.FinalContent = resp.Content
			result.Exhausted = false
			return result, nil
		}

		if opts.Hooks.ToolCallsRequested != nil {
			opts.Hooks.ToolCallsRequested(iteration, resp.ToolCalls)
		}

		result.Messages = append(result.Messages, providers.AssistantMessageFromResponse(resp))
		if opts.ExecuteTools != nil {
			result.Messages = append(result.Messages, opts.ExecuteTools(ctx, resp.ToolCalls, iteration)...)
		}
	}

	return result, nil
}

// chat makes one model call under the configured per-call timeout.
func chat(ctx context.Context, opts RunOptions, messages []providers.Message, toolDefs []providers.ToolDefinition) (*providers.LLMResponse, error) {
	callCtx := ctx
	cancel := func() {}
	if opts.LLMTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.LLMTimeout)
	}
	defer cancel()

	return opts.Provider.Chat(callCtx, messages, toolDefs, opts.Model, opts.ChatOptions.ToMap())
}
