// Package conversation is the conversation controller: it turns a user
// message into a model turn, drives the tool-call iteration loop, keeps
// per-session history, and triggers summarizing compaction once a
// session's estimated token usage crosses 80% of the active model's
// context window.
package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvid/agentkit/pkg/bus"
	"github.com/corvid/agentkit/pkg/config"
	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/memory"
	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/session"
	"github.com/corvid/agentkit/pkg/telemetry"
	"github.com/corvid/agentkit/pkg/tools"
	"github.com/corvid/agentkit/pkg/utils"
)

// Controller drives the main conversation loop for one active backend.
// Each call to ProcessDirect or Run's bus-driven dispatch feeds through
// the same runTurn path.
type Controller struct {
	bus              *bus.MessageBus
	provider         providers.LLMProvider
	workspace        string
	model            string
	maxIterations    int
	llmTimeout       time.Duration
	toolTimeout      time.Duration
	maxParallelTools int
	statusDelay      time.Duration

	sessions        *session.SessionManager
	contextBuilder  *ContextBuilder
	tools           *tools.ToolRegistry
	memoryStore     *memory.MemoryStore
	subagentManager *tools.SubagentManager

	running     atomic.Bool
	summarizing sync.Map
}

// New builds a Controller wired with the named backend's model and a
// fresh tool registry (core tools, the subagent task tools, and the
// memory tools when the store is available).
func New(cfg *config.Config, backendName string, msgBus *bus.MessageBus, provider providers.LLMProvider) (*Controller, error) {
	backend, err := cfg.Backend(backendName)
	if err != nil {
		return nil, err
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	registry := tools.NewToolRegistry()
	tools.RegisterCoreTools(registry, workspace, cfg.WebSearchAPIKey(), cfg.Runtime.WebSearchMaxResults)
	registry.SetExecutionPolicy(tools.NewToolExecutionPolicy(cfg.ToolPolicy.Enabled, cfg.ToolPolicy.Allow, cfg.ToolPolicy.Deny))

	subagentManager := tools.NewSubagentManager(*backend, workspace, msgBus, registry)
	for _, t := range tools.NewTaskTools(subagentManager) {
		registry.Register(t)
	}

	memoryDBPath := filepath.Join(workspace, "memory", "memory.db")
	memoryDB, err := memory.NewMemoryStore(memoryDBPath, workspace)
	if err != nil {
		logger.WarnCF("conversation", "memory store unavailable, memory tools disabled", map[string]interface{}{"error": err.Error()})
		memoryDB = nil
	} else {
		if reindexErr := memoryDB.Reindex(); reindexErr != nil {
			logger.WarnCF("conversation", "memory reindex failed", map[string]interface{}{"error": reindexErr.Error()})
		}
		registry.Register(tools.NewMemorySearchTool(memoryDB))
		registry.Register(tools.NewMemoryStoreTool(memoryDB))
	}

	sessionsManager := session.NewSessionManager(filepath.Join(workspace, "sessions"))

	contextBuilder := NewContextBuilder(workspace)
	contextBuilder.SetToolsRegistry(registry)

	return &Controller{
		bus:              msgBus,
		provider:         provider,
		workspace:        workspace,
		model:            backend.Model,
		maxIterations:    cfg.Runtime.MaxToolIterations,
		llmTimeout:       time.Duration(cfg.Runtime.LLMTimeoutSeconds) * time.Second,
		toolTimeout:      time.Duration(cfg.Runtime.ToolTimeoutSeconds) * time.Second,
		maxParallelTools: cfg.Runtime.MaxParallelToolCalls,
		statusDelay:      time.Duration(cfg.Runtime.StatusDelaySeconds) * time.Second,
		sessions:         sessionsManager,
		contextBuilder:   contextBuilder,
		tools:            registry,
		memoryStore:      memoryDB,
		subagentManager:  subagentManager,
	}, nil
}

// Tools exposes the controller's registry, for wiring extra tools (e.g.
// from the slash-command router or MCP servers) before the first turn.
func (c *Controller) Tools() *tools.ToolRegistry { return c.tools }

// Model returns the active backend's model name.
func (c *Controller) Model() string { return c.model }

// History returns a session's message history, for the slash-command
// router's token accounting.
func (c *Controller) History(sessionKey string) []providers.Message {
	return c.sessions.GetHistory(sessionKey)
}

// ClearSession drops a session's history and summary (the /clear path).
func (c *Controller) ClearSession(sessionKey string) {
	c.sessions.Clear(sessionKey)
}

// CompactStats reports what a forced compaction did.
type CompactStats struct {
	MessagesBefore int
	MessagesAfter  int
	TokensBefore   int
	TokensAfter    int
}

// CompactNow runs compaction synchronously (the /compact path) and
// reports before/after counts.
func (c *Controller) CompactNow(sessionKey string) (CompactStats, error) {
	history := c.sessions.GetHistory(sessionKey)
	stats := CompactStats{MessagesBefore: len(history), TokensBefore: CountConversationTokens(history)}
	if len(history) <= 3 {
		return stats, fmt.Errorf("conversation is too short to compact (3 messages or fewer)")
	}

	if err := c.compactSession(sessionKey); err != nil {
		return stats, err
	}

	after := c.sessions.GetHistory(sessionKey)
	stats.MessagesAfter = len(after)
	stats.TokensAfter = CountConversationTokens(after)
	return stats, nil
}

// Shutdown performs the orderly /quit sequence: it kills every live
// subagent subprocess so none survive the parent's exit. Model-task
// cancellation and remote-tool transport teardown are the caller's
// responsibility (they live in the CLI's session loop, which owns the
// context and the MCP clients).
func (c *Controller) Shutdown() {
	if c.subagentManager != nil {
		c.subagentManager.Shutdown()
	}
}

// Run consumes inbound bus messages until ctx is cancelled, publishing
// responses back out.
func (c *Controller) Run(ctx context.Context) error {
	c.running.Store(true)
	for c.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			continue
		}

		response, err := c.processMessage(ctx, msg)
		if err != nil {
			response = fmt.Sprintf("Error processing message: %v", err)
		}
		if response != "" {
			c.bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: response})
		}
	}
	return nil
}

// Stop ends a running Run loop after its current iteration.
func (c *Controller) Stop() { c.running.Store(false) }

// ProcessDirect runs one turn synchronously and returns the final text,
// for the interactive CLI's "ask" and chat-loop paths.
func (c *Controller) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return c.runTurn(ctx, turnOptions{
		SessionKey:      sessionKey,
		Channel:         "cli",
		ChatID:          "direct",
		UserMessage:     content,
		DefaultResponse: "I've finished processing but have no response to give.",
		EnableSummary:   true,
	})
}

type turnOptions struct {
	SessionKey      string
	Channel         string
	ChatID          string
	UserMessage     string
	DefaultResponse string
	EnableSummary   bool
	SendResponse    bool
}

func (c *Controller) processMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	preview := utils.Truncate(msg.Content, 80)
	logger.InfoCF("conversation", fmt.Sprintf("processing message from %s:%s: %s", msg.Channel, msg.SenderID, preview),
		map[string]interface{}{"channel": msg.Channel, "chat_id": msg.ChatID, "session_key": msg.SessionKey})

	if msg.Channel == "system" {
		return c.processSystemMessage(ctx, msg)
	}

	sessionKey := msg.SessionKey
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("%s:%s", msg.Channel, msg.ChatID)
	}
	return c.runTurn(ctx, turnOptions{
		SessionKey:      sessionKey,
		Channel:         msg.Channel,
		ChatID:          msg.ChatID,
		UserMessage:     msg.Content,
		DefaultResponse: "I've finished processing but have no response to give.",
		EnableSummary:   true,
		SendResponse:    false,
	})
}

// processSystemMessage routes a subagent report back to the conversation
// it originated from. Pure progress/note/warning events are stored as an
// internal note rather than triggering a new model turn.
func (c *Controller) processSystemMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	var originChannel, originChatID string
	if idx := strings.Index(msg.ChatID, ":"); idx > 0 {
		originChannel, originChatID = msg.ChatID[:idx], msg.ChatID[idx+1:]
	} else {
		originChannel, originChatID = "cli", msg.ChatID
	}
	sessionKey := fmt.Sprintf("%s:%s", originChannel, originChatID)

	if strings.HasPrefix(msg.SenderID, "subagent:") {
		event := ""
		if msg.Metadata != nil {
			event = msg.Metadata["subagent_event"]
		}
		switch event {
		case "progress", "note", "warning":
			c.sessions.AddMessage(sessionKey, "assistant", fmt.Sprintf("[Internal: %s] %s", msg.SenderID, msg.Content))
			_ = c.sessions.Save(c.sessions.GetOrCreate(sessionKey))
			return "", nil
		}
	}

	_, err := c.runTurn(ctx, turnOptions{
		SessionKey:      sessionKey,
		Channel:         originChannel,
		ChatID:          originChatID,
		UserMessage:     fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content),
		DefaultResponse: "Background task completed.",
		EnableSummary:   false,
		SendResponse:    true,
	})
	if err != nil {
		c.bus.PublishOutbound(bus.OutboundMessage{
			Channel: originChannel,
			ChatID:  originChatID,
			Content: fmt.Sprintf("Error processing background task: %v", err),
		})
	}
	return "", nil
}

func (c *Controller) runTurn(ctx context.Context, opts turnOptions) (string, error) {
	history := c.sessions.GetHistory(opts.SessionKey)
	summary := c.sessions.GetSummary(opts.SessionKey)
	messages := c.contextBuilder.BuildMessages(history, summary, opts.UserMessage, nil, opts.Channel, opts.ChatID)

	c.sessions.AddMessage(opts.SessionKey, "user", opts.UserMessage)

	finalContent, iterations, err := c.runModelLoop(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	if finalContent == "" {
		finalContent = opts.DefaultResponse
	}

	c.sessions.AddMessage(opts.SessionKey, "assistant", finalContent)
	_ = c.sessions.Save(c.sessions.GetOrCreate(opts.SessionKey))

	if opts.EnableSummary {
		c.maybeCompact(opts.SessionKey)
	}
	if opts.SendResponse {
		c.bus.PublishOutbound(bus.OutboundMessage{Channel: opts.Channel, ChatID: opts.ChatID, Content: finalContent})
	}

	logger.InfoCF("conversation", "turn complete",
		map[string]interface{}{"session_key": opts.SessionKey, "iterations": iterations, "final_length": len(finalContent)})
	return finalContent, nil
}

// runModelLoop calls the model, executing any requested tools, until it
// returns a direct answer or the iteration budget is exhausted. On
// exhaustion it makes one final tools-disabled call asking the model to
// summarize progress so far.
func (c *Controller) runModelLoop(ctx context.Context, messages []providers.Message, opts turnOptions) (string, int, error) {
	iteration := 0
	exhausted := true
	var finalContent string

	for iteration < c.maxIterations {
		iteration++

		toolDefs := c.tools.GetProviderDefinitions()
		response, err := c.chatWithTimeout(ctx, messages, toolDefs, providers.ChatOptions{MaxTokens: 8192, Temperature: 0.7})
		if err != nil {
			return "", iteration, fmt.Errorf("model call failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			finalContent = response.Content
			exhausted = false
			break
		}

		assistantMsg := providers.AssistantMessageFromResponse(response)
		messages = append(messages, assistantMsg)
		c.sessions.AddFullMessage(opts.SessionKey, assistantMsg)

		toolResults := c.executeToolsConcurrently(ctx, response.ToolCalls, opts)
		for _, tr := range toolResults {
			messages = append(messages, tr)
			c.sessions.AddFullMessage(opts.SessionKey, tr)
		}
	}

	if exhausted {
		logger.WarnCF("conversation", "tool iteration limit reached", map[string]interface{}{"iterations": iteration, "max": c.maxIterations})
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: "You've reached your tool call iteration limit. Summarize what you've accomplished and what remains. The user can ask you to continue.",
		})
		response, err := c.chatWithTimeout(ctx, messages, nil, providers.ChatOptions{MaxTokens: 8192, Temperature: 0.7})
		if err != nil {
			finalContent = fmt.Sprintf("I reached my tool call limit (%d iterations) before finishing. Ask me to continue and I'll pick up where I left off.", c.maxIterations)
		} else {
			finalContent = response.Content
		}
	}

	return finalContent, iteration, nil
}

func (c *Controller) chatWithTimeout(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, options providers.ChatOptions) (*providers.LLMResponse, error) {
	callCtx := ctx
	cancel := func() {}
	if c.llmTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.llmTimeout)
	}
	defer cancel()

	callCtx, span := telemetry.StartModelSpan(callCtx, c.model)
	defer span.End()
	return c.provider.Chat(callCtx, messages, toolDefs, c.model, options.ToMap())
}

// executeToolsConcurrently runs tool calls through the registry's
// bounded-parallelism executor, collecting results in call order and
// pinging the origin channel with "still working" status updates for
// long-running batches.
func (c *Controller) executeToolsConcurrently(ctx context.Context, toolCalls []providers.ToolCall, opts turnOptions) []providers.Message {
	n := len(toolCalls)

	var notifier *statusNotifier
	sendProgress := opts.Channel != "system"
	if c.statusDelay > 0 && sendProgress {
		notifier = newStatusNotifier(c.bus, opts.Channel, opts.ChatID, c.statusDelay)
		notifier.start(fmt.Sprintf("%d tools", n))
		defer notifier.stop()
	}

	return c.tools.ExecuteToolCalls(ctx, toolCalls, tools.ExecuteToolCallsOptions{
		Channel:      opts.Channel,
		ChatID:       opts.ChatID,
		Timeout:      c.toolTimeout,
		MaxParallel:  c.maxParallelTools,
		LogComponent: "conversation",
		OnToolComplete: func(completed, total, _ int, call providers.ToolCall, _ providers.Message) {
			if sendProgress && total > 1 {
				c.bus.PublishOutbound(bus.OutboundMessage{
					Channel: opts.Channel,
					ChatID:  opts.ChatID,
					Content: fmt.Sprintf("%s done (%d/%d)", call.Name, completed, total),
				})
			}
		},
	})
}

// maybeCompact triggers background compaction once estimated token usage
// crosses 80% of the active model's context window.
func (c *Controller) maybeCompact(sessionKey string) {
	history := c.sessions.GetHistory(sessionKey)
	if !ShouldCompact(history, c.model) {
		return
	}
	if _, loading := c.summarizing.LoadOrStore(sessionKey, true); loading {
		return
	}
	go func() {
		defer c.summarizing.Delete(sessionKey)
		_ = c.compactSession(sessionKey)
	}()
}

// compactSession keeps message[0] (handled implicitly — history never
// stores the system prompt) and the last 2 messages verbatim, summarizing
// everything else into the session's rolling summary. When the
// summarization call itself fails, it falls back to truncating the
// session to its last 5 messages so the token budget still shrinks.
func (c *Controller) compactSession(sessionKey string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	history := c.sessions.GetHistory(sessionKey)
	if len(history) <= 2 {
		return nil
	}
	existingSummary := c.sessions.GetSummary(sessionKey)
	toSummarize := history[:len(history)-2]

	var sb strings.Builder
	for _, m := range toSummarize {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	if sb.Len() == 0 {
		return nil
	}

	prompt := fmt.Sprintf(`Please create a concise summary of this conversation that preserves:
1. Key decisions and actions taken
2. Important file changes or tool usage
3. Current project state and context
4. Any pending tasks or next steps

Existing summary: %s

Conversation to summarize:
%s`, existingSummary, sb.String())

	response, err := c.provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, c.model,
		providers.ChatOptions{MaxTokens: 1024, Temperature: 0.3}.ToMap())
	if err != nil {
		logger.WarnCF("conversation", "compaction failed, keeping last 5 messages",
			map[string]interface{}{"error": err.Error(), "session_key": sessionKey})
		c.sessions.TruncateHistory(sessionKey, 5)
		_ = c.sessions.Save(c.sessions.GetOrCreate(sessionKey))
		return nil
	}

	c.sessions.SetSummary(sessionKey, response.Content)
	c.sessions.TruncateHistory(sessionKey, 2)
	_ = c.sessions.Save(c.sessions.GetOrCreate(sessionKey))

	c.extractAndStoreMemories(ctx, toSummarize)
	return nil
}

// extractAndStoreMemories asks the model to pull out notable long-term
// facts from compacted history, so they survive even after the raw
// messages are gone.
func (c *Controller) extractAndStoreMemories(ctx context.Context, messages []providers.Message) {
	if c.memoryStore == nil {
		return
	}
	var sb strings.Builder
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	conversation := sb.String()
	if strings.TrimSpace(conversation) == "" {
		return
	}

	extractCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(memoryExtractionPrompt, conversation)
	response, err := c.provider.Chat(extractCtx, []providers.Message{{Role: "user", Content: prompt}}, nil, c.model,
		providers.ChatOptions{MaxTokens: 1024, Temperature: 0.3}.ToMap())
	if err != nil {
		logger.WarnCF("conversation", "memory extraction failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, mem := range parseMemoryLines(response.Content) {
		if _, err := c.memoryStore.Store(mem.Content, mem.Category, "summarization", nil); err != nil {
			logger.WarnCF("conversation", "failed to store extracted memory", map[string]interface{}{"error": err.Error()})
		}
	}
}
