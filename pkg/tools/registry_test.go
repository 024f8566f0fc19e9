package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestToolRegistry_NotFound_ReturnsContractString(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "a", result: "ok"})
	r.Register(&policyTestTool{name: "b", result: "ok"})

	result, err := r.Execute(context.Background(), "missing_tool", map[string]interface{}{})
	if err != nil {
		t.Fatalf("expected not-found to be a result, not an error: %v", err)
	}
	want := "Error: Tool missing_tool not found. Available: [builtin:a builtin:b]"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestToolRegistry_NotFound_CapsAvailableAtTen(t *testing.T) {
	r := NewToolRegistry()
	for i := 0; i < 15; i++ {
		r.Register(&policyTestTool{name: string(rune('a' + i)), result: "ok"})
	}

	result, _ := r.Execute(context.Background(), "missing", map[string]interface{}{})
	if !strings.HasPrefix(result, "Error: Tool missing not found. Available: [") {
		t.Fatalf("unexpected not-found format: %q", result)
	}
	opened := strings.Count(result, "builtin:")
	if opened != 10 {
		t.Errorf("listed %d available tools, want 10", opened)
	}
}

func TestToolRegistry_RegisterRemote_KeyedByOrigin(t *testing.T) {
	r := NewToolRegistry()
	r.RegisterRemote("myserver", &policyTestTool{name: "fetch", result: "remote ok"}, "transport-handle")

	tool, ok := r.Get("myserver:fetch")
	if !ok {
		t.Fatal("expected lookup by full key to succeed")
	}
	if tool.Name() != "fetch" {
		t.Errorf("tool.Name() = %q, want fetch", tool.Name())
	}

	// Bare name still resolves for model-facing dispatch.
	if _, ok := r.Get("fetch"); !ok {
		t.Fatal("expected lookup by bare name to succeed")
	}

	result, err := r.Execute(context.Background(), "myserver:fetch", nil)
	if err != nil || result != "remote ok" {
		t.Fatalf("Execute by key = (%q, %v), want (\"remote ok\", nil)", result, err)
	}
}

func TestToolRegistry_RemoveOrigin_DropsOnlyThatOrigin(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "local", result: "ok"})
	r.RegisterRemote("srv1", &policyTestTool{name: "remote_tool", result: "ok"}, nil)

	r.RemoveOrigin("srv1")

	if _, ok := r.Get("srv1:remote_tool"); ok {
		t.Error("expected srv1:remote_tool to be removed")
	}
	if _, ok := r.Get("remote_tool"); ok {
		t.Error("expected bare-name index for removed tool to be cleared too")
	}
	if _, ok := r.Get("builtin:local"); !ok {
		t.Error("expected unrelated origin's tool to survive RemoveOrigin")
	}
}

func TestToolRegistry_NormalizedNamesRoundTrip(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "list_directory", result: "listed"})
	r.RegisterRemote("search", &policyTestTool{name: "lookup", result: "found"}, nil)

	// The model-facing schema carries ":"-free names.
	names := map[string]bool{}
	for _, def := range r.GetProviderDefinitions() {
		if strings.Contains(def.Function.Name, ":") {
			t.Errorf("model-facing name %q contains a colon", def.Function.Name)
		}
		if names[def.Function.Name] {
			t.Errorf("normalized name %q collides", def.Function.Name)
		}
		names[def.Function.Name] = true
	}
	if !names["builtin_list_directory"] || !names["search_lookup"] {
		t.Fatalf("unexpected model-facing names: %v", names)
	}

	// Dispatch by the normalized name reverses the mapping.
	result, err := r.Execute(context.Background(), "builtin_list_directory", map[string]interface{}{})
	if err != nil || result != "listed" {
		t.Errorf("Execute(builtin_list_directory) = (%q, %v)", result, err)
	}
	result, err = r.Execute(context.Background(), "search_lookup", map[string]interface{}{})
	if err != nil || result != "found" {
		t.Errorf("Execute(search_lookup) = (%q, %v)", result, err)
	}
}

func TestToolRegistry_ExecuteWithKeepalive_SendsStatusAndCompletes(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&execTestTool{name: "slow", delay: 120 * time.Millisecond, result: "finished"})

	statusCh := make(chan string, 8)
	result, err := r.ExecuteWithKeepalive(context.Background(), "slow", map[string]interface{}{}, "", "", 30*time.Millisecond, statusCh)
	if err != nil {
		t.Fatalf("ExecuteWithKeepalive() error: %v", err)
	}
	if result != "finished" {
		t.Errorf("result = %q, want finished", result)
	}
	if len(statusCh) == 0 {
		t.Error("expected at least one keepalive status line")
	}
	select {
	case line := <-statusCh:
		if !strings.Contains(line, "still running") || !strings.Contains(line, "ESC") {
			t.Errorf("unexpected status line: %q", line)
		}
	default:
		t.Fatal("expected a buffered status line")
	}
}

func TestToolRegistry_ExecuteWithKeepalive_CancelReturnsCancelledText(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&execTestTool{name: "slow", delay: 2 * time.Second, result: "finished"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := r.ExecuteWithKeepalive(ctx, "slow", map[string]interface{}{}, "", "", 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("ExecuteWithKeepalive() error: %v", err)
	}
	if result != "Tool execution cancelled" {
		t.Errorf("result = %q, want %q", result, "Tool execution cancelled")
	}
}
