package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corvid/agentkit/pkg/bus"
	"github.com/corvid/agentkit/pkg/config"
	"github.com/corvid/agentkit/pkg/providers"
)

// scriptedProvider replays a fixed sequence of responses, recording the
// message lists it was called with.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	calls     [][]providers.Message
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]providers.Message(nil), messages...))
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.LLMResponse{Content: "out of script"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string            { return "scripted" }
func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestController(t *testing.T, provider providers.LLMProvider) (*Controller, *bus.MessageBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace = t.TempDir()
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)

	c, err := New(cfg, "chat", msgBus, provider)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c, msgBus
}

func TestProcessDirect_PlainResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "hi"}}}
	c, _ := newTestController(t, provider)

	response, err := c.ProcessDirect(context.Background(), "hello", "cli:test")
	if err != nil {
		t.Fatalf("ProcessDirect() error: %v", err)
	}
	if response != "hi" {
		t.Errorf("response = %q, want %q", response, "hi")
	}

	history := c.History("cli:test")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2: %+v", len(history), history)
	}
	if history[0].Role != "user" || history[0].Content != "hello" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "hi" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestProcessDirect_ToolCallRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "call_1", Name: "get_current_directory", Arguments: map[string]interface{}{}}}},
		{Content: "you are here"},
	}}
	c, _ := newTestController(t, provider)

	response, err := c.ProcessDirect(context.Background(), "where am I?", "cli:test")
	if err != nil {
		t.Fatalf("ProcessDirect() error: %v", err)
	}
	if response != "you are here" {
		t.Errorf("response = %q", response)
	}

	// Strict linearization: user → assistant-with-tool-calls → one tool
	// message per call_id → final assistant.
	history := c.History("cli:test")
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4: %+v", len(history), history)
	}
	if history[1].Role != "assistant" || len(history[1].ToolCalls) != 1 {
		t.Errorf("history[1] = %+v, want assistant with one tool call", history[1])
	}
	if history[2].Role != "tool" || history[2].ToolCallID != "call_1" {
		t.Errorf("history[2] = %+v, want tool result for call_1", history[2])
	}
	if history[2].Content == "" {
		t.Error("tool result content is empty")
	}
	if history[3].Role != "assistant" || history[3].Content != "you are here" {
		t.Errorf("history[3] = %+v", history[3])
	}
}

func TestProcessDirect_EveryToolCallGetsExactlyOneResult(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "call_a", Name: "get_current_directory", Arguments: map[string]interface{}{}},
			{ID: "call_b", Name: "no_such_tool", Arguments: map[string]interface{}{}},
		}},
		{Content: "done"},
	}}
	c, _ := newTestController(t, provider)

	if _, err := c.ProcessDirect(context.Background(), "go", "cli:test"); err != nil {
		t.Fatalf("ProcessDirect() error: %v", err)
	}

	counts := map[string]int{}
	for _, m := range c.History("cli:test") {
		if m.Role == "tool" {
			counts[m.ToolCallID]++
		}
	}
	if counts["call_a"] != 1 || counts["call_b"] != 1 {
		t.Errorf("tool result counts = %v, want exactly one per call id", counts)
	}

	// The unknown tool surfaces as error text the model can read, not a
	// dropped message.
	for _, m := range c.History("cli:test") {
		if m.ToolCallID == "call_b" && !strings.Contains(m.Content, "not found") {
			t.Errorf("unknown-tool result = %q", m.Content)
		}
	}
}

func TestProcessDirect_IterationExhaustion(t *testing.T) {
	looping := make([]*providers.LLMResponse, 0, 4)
	for i := 0; i < 3; i++ {
		looping = append(looping, &providers.LLMResponse{
			ToolCalls: []providers.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "get_current_directory", Arguments: map[string]interface{}{}}},
		})
	}
	looping = append(looping, &providers.LLMResponse{Content: "partial progress summary"})

	provider := &scriptedProvider{responses: looping}

	cfg := config.DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Runtime.MaxToolIterations = 3
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)
	c, err := New(cfg, "chat", msgBus, provider)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(c.Shutdown)

	response, err := c.ProcessDirect(context.Background(), "loop forever", "cli:test")
	if err != nil {
		t.Fatalf("ProcessDirect() error: %v", err)
	}
	if response != "partial progress summary" {
		t.Errorf("response = %q, want the forced summary", response)
	}
}

func TestProcessDirect_ModelFailureStopsTurnOnly(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("backend unreachable")}
	c, _ := newTestController(t, provider)

	if _, err := c.ProcessDirect(context.Background(), "hello", "cli:test"); err == nil {
		t.Fatal("expected error from failed model call")
	}

	// The failed turn appends nothing except the user message; a later
	// successful turn proceeds normally.
	provider.mu.Lock()
	provider.err = nil
	provider.responses = []*providers.LLMResponse{{Content: "recovered"}}
	provider.mu.Unlock()

	response, err := c.ProcessDirect(context.Background(), "again", "cli:test")
	if err != nil {
		t.Fatalf("ProcessDirect() after recovery error: %v", err)
	}
	if response != "recovered" {
		t.Errorf("response = %q", response)
	}
}

func TestCompactNow_TooShort(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "hi"}}}
	c, _ := newTestController(t, provider)

	if _, err := c.ProcessDirect(context.Background(), "hello", "cli:test"); err != nil {
		t.Fatalf("ProcessDirect() error: %v", err)
	}
	if _, err := c.CompactNow("cli:test"); err == nil {
		t.Error("expected too-short error")
	}
}

func TestCompactNow_KeepsLastTwoAndShrinks(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: strings.Repeat("long answer one ", 50)},
		{Content: strings.Repeat("long answer two ", 50)},
		{Content: strings.Repeat("long answer three ", 50)},
		{Content: "a compact summary"}, // the summarization call
	}}
	c, _ := newTestController(t, provider)

	for _, q := range []string{"first question", "second question", "third question"} {
		if _, err := c.ProcessDirect(context.Background(), q, "cli:test"); err != nil {
			t.Fatalf("ProcessDirect(%q) error: %v", q, err)
		}
	}

	before := c.History("cli:test")
	lastTwo := before[len(before)-2:]

	stats, err := c.CompactNow("cli:test")
	if err != nil {
		t.Fatalf("CompactNow() error: %v", err)
	}

	after := c.History("cli:test")
	if len(after) != 2 {
		t.Fatalf("history after compaction = %d messages, want 2", len(after))
	}
	for i := range after {
		if after[i].Role != lastTwo[i].Role || after[i].Content != lastTwo[i].Content {
			t.Errorf("last two messages not preserved verbatim:\nwant %+v\ngot  %+v", lastTwo, after)
			break
		}
	}
	if stats.TokensAfter >= stats.TokensBefore {
		t.Errorf("tokens did not decrease: %d -> %d", stats.TokensBefore, stats.TokensAfter)
	}
}

func TestCompactNow_FallbackKeepsLastFive(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "a1"}, {Content: "a2"}, {Content: "a3"}, {Content: "a4"},
	}}
	c, _ := newTestController(t, provider)

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		if _, err := c.ProcessDirect(context.Background(), q, "cli:test"); err != nil {
			t.Fatalf("ProcessDirect(%q) error: %v", q, err)
		}
	}

	// The summarization call itself fails; compaction falls back to a
	// last-5 truncation and reports success.
	provider.mu.Lock()
	provider.err = fmt.Errorf("summarizer down")
	provider.mu.Unlock()

	if _, err := c.CompactNow("cli:test"); err != nil {
		t.Fatalf("CompactNow() error: %v", err)
	}
	if got := len(c.History("cli:test")); got != 5 {
		t.Errorf("history after fallback = %d messages, want 5", got)
	}
}

func TestProcessMessage_SubagentProgressStoredWithoutModelTurn(t *testing.T) {
	provider := &scriptedProvider{}
	c, _ := newTestController(t, provider)

	_, err := c.processMessage(context.Background(), bus.InboundMessage{
		Channel:  "system",
		SenderID: "subagent:task_1",
		ChatID:   "cli:direct",
		Content:  "step 1 done",
		Metadata: map[string]string{"subagent_event": "progress"},
	})
	if err != nil {
		t.Fatalf("processMessage() error: %v", err)
	}

	if provider.callCount() != 0 {
		t.Errorf("progress report triggered %d model calls, want 0", provider.callCount())
	}
	history := c.History("cli:direct")
	if len(history) != 1 || !strings.Contains(history[0].Content, "step 1 done") {
		t.Errorf("history = %+v, want one internal note", history)
	}
}

func TestProcessMessage_SubagentCompletionTriggersTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "noted, relaying to user"}}}
	c, msgBus := newTestController(t, provider)

	_, err := c.processMessage(context.Background(), bus.InboundMessage{
		Channel:  "system",
		SenderID: "subagent:task_1",
		ChatID:   "cli:direct",
		Content:  "Task 'scan' completed.\n\nResult:\nall clear",
		Metadata: map[string]string{"subagent_event": "complete"},
	})
	if err != nil {
		t.Fatalf("processMessage() error: %v", err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("completion triggered %d model calls, want 1", provider.callCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := msgBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound response published")
	}
	if out.Content != "noted, relaying to user" {
		t.Errorf("outbound = %q", out.Content)
	}
}
