package tools

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corvid/agentkit/pkg/bus"
	"github.com/corvid/agentkit/pkg/config"
)

// fakeProcess is a subagentProcess that records whether Kill was called,
// so tests can assert on cancellation without spawning a real OS process.
type fakeProcess struct {
	killed *int32
}

func (p fakeProcess) Kill() error {
	if p.killed != nil {
		atomic.StoreInt32(p.killed, 1)
	}
	return nil
}

// newFakeLauncher returns a subagentLauncher that, instead of exec'ing a
// real process, reads the control port out of the task file written by
// Spawn, dials it, and runs script against the connection — simulating
// an execute-task worker without ever touching the real CLI binary.
func newFakeLauncher(script func(cc *ControlConn)) subagentLauncher {
	return func(_, taskFilePath string) (subagentProcess, <-chan struct{}, error) {
		data, err := os.ReadFile(taskFilePath)
		if err != nil {
			return nil, nil, err
		}
		var tf SubagentTaskFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, nil, err
		}

		exited := make(chan struct{})
		go func() {
			defer close(exited)
			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tf.CommPort)))
			if err != nil {
				return
			}
			defer conn.Close()
			script(NewControlConn(conn))
		}()
		return fakeProcess{}, exited, nil
	}
}

func newTestManager(t *testing.T, script func(cc *ControlConn)) *SubagentManager {
	t.Helper()
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), bus.NewMessageBus(), nil)
	mgr.acceptTimeout = 2 * time.Second
	mgr.launch = newFakeLauncher(script)
	return mgr
}

func waitForStatus(t *testing.T, mgr *SubagentManager, taskID string, want string, timeout time.Duration) *SubagentTask {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := mgr.GetTask(taskID)
		if ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := mgr.GetTask(taskID)
	t.Fatalf("task %s did not reach status %q in time (last: %+v)", taskID, want, task)
	return nil
}

func TestSubagentManager_ResultRoundTrip(t *testing.T) {
	mgr := newTestManager(t, func(cc *ControlConn) {
		_ = cc.Send(ControlMessage{Type: ctrlTypeReport, Event: "progress", Content: "working"})
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "all done"})
	})

	taskID, err := mgr.Spawn(context.Background(), "mytask", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	if taskID != "task_1" {
		t.Errorf("taskID = %q, want %q", taskID, "task_1")
	}

	task := waitForStatus(t, mgr, taskID, "completed", 2*time.Second)
	if task.Result != "all done" {
		t.Errorf("Result = %q, want %q", task.Result, "all done")
	}
	if task.BatchID != "batch_1" {
		t.Errorf("BatchID = %q, want %q", task.BatchID, "batch_1")
	}
	if task.Finished < task.Created {
		t.Errorf("Finished (%d) < Created (%d)", task.Finished, task.Created)
	}
}

func TestSubagentManager_TaskIDsMonotonic(t *testing.T) {
	mgr := newTestManager(t, func(cc *ControlConn) {
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "ok"})
	})

	for i := 1; i <= 3; i++ {
		id, err := mgr.Spawn(context.Background(), "t", "p", "cli", "direct", "")
		if err != nil {
			t.Fatalf("Spawn() error: %v", err)
		}
		want := "task_" + strconv.Itoa(i)
		if id != want {
			t.Errorf("task id = %q, want %q", id, want)
		}
	}
}

func TestSubagentManager_ReportPublishesInbound(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), msgBus, nil)
	mgr.acceptTimeout = 2 * time.Second
	mgr.launch = newFakeLauncher(func(cc *ControlConn) {
		_ = cc.Send(ControlMessage{Type: ctrlTypeReport, Event: "progress", Content: "step 1"})
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "done"})
	})

	_, err := mgr.Spawn(context.Background(), "imggen", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gotProgress, gotComplete := false, false
	for !(gotProgress && gotComplete) {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if msg.Channel != "system" || msg.ChatID != "telegram:chat1" {
			continue
		}
		event := ""
		if msg.Metadata != nil {
			event = msg.Metadata["subagent_event"]
		}
		switch event {
		case "progress":
			gotProgress = true
			if msg.Content != "step 1" {
				t.Errorf("progress content = %q, want %q", msg.Content, "step 1")
			}
		case "complete":
			gotComplete = true
			if msg.Content == "" {
				t.Error("expected non-empty completion content")
			}
		}
	}

	if !gotProgress {
		t.Fatal("expected progress report inbound message")
	}
	if !gotComplete {
		t.Fatal("expected completion inbound message")
	}
}

func TestSubagentManager_ForwardedToolExecution(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&GetCurrentDirectoryTool{})

	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), bus.NewMessageBus(), registry)
	mgr.acceptTimeout = 2 * time.Second

	var mu sync.Mutex
	var gotResponse ControlMessage
	done := make(chan struct{})

	mgr.launch = newFakeLauncher(func(cc *ControlConn) {
		_ = cc.Send(ControlMessage{
			Type:      ctrlTypeToolExecutionRequest,
			RequestID: "r1",
			ToolKey:   "get_current_directory",
			ToolArgs:  map[string]interface{}{},
		})
		resp, err := cc.Recv()
		if err == nil {
			mu.Lock()
			gotResponse = resp
			mu.Unlock()
		}
		close(done)
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "ok"})
	})

	taskID, err := mgr.Spawn(context.Background(), "fwd", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded tool response")
	}

	mu.Lock()
	resp := gotResponse
	mu.Unlock()

	if resp.Type != ctrlTypeToolExecutionResponse || !resp.Success {
		t.Fatalf("unexpected tool_execution_response: %+v", resp)
	}
	if resp.RequestID != "r1" {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, "r1")
	}
	if resp.Result == "" {
		t.Error("expected non-empty forwarded tool result")
	}

	waitForStatus(t, mgr, taskID, "completed", 2*time.Second)
}

func TestSubagentManager_TaskFileCarriesRemoteTools(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&GetCurrentDirectoryTool{})
	registry.RegisterRemote("search", &policyTestTool{name: "lookup", result: "ok"}, "handle")

	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), nil, registry)
	mgr.acceptTimeout = 50 * time.Millisecond

	var mu sync.Mutex
	var seen []RemoteToolSpec
	mgr.launch = func(_, taskFilePath string) (subagentProcess, <-chan struct{}, error) {
		data, err := os.ReadFile(taskFilePath)
		if err != nil {
			return nil, nil, err
		}
		var tf SubagentTaskFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, nil, err
		}
		mu.Lock()
		seen = tf.RemoteTools
		mu.Unlock()
		exited := make(chan struct{})
		close(exited)
		return fakeProcess{}, exited, nil
	}

	taskID, err := mgr.Spawn(context.Background(), "remote-aware", "p", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	waitForStatus(t, mgr, taskID, "failed", 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Origin != "search" || seen[0].Name != "lookup" {
		t.Fatalf("RemoteTools = %+v, want the parent's search:lookup only", seen)
	}
}

func TestSubagentManager_BatchCoalescing(t *testing.T) {
	mgr := newTestManager(t, func(cc *ControlConn) {
		time.Sleep(400 * time.Millisecond)
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "ok"})
	})
	mgr.ConfigureBatchWindow(100 * time.Millisecond)

	id1, err := mgr.Spawn(context.Background(), "a", "p", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	id2, err := mgr.Spawn(context.Background(), "b", "p", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	id3, err := mgr.Spawn(context.Background(), "c", "p", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	t1, _ := mgr.GetTask(id1)
	t2, _ := mgr.GetTask(id2)
	t3, _ := mgr.GetTask(id3)
	if t1.BatchID != t2.BatchID {
		t.Errorf("tasks spawned inside the window got different batches: %q vs %q", t1.BatchID, t2.BatchID)
	}
	if t3.BatchID == t1.BatchID {
		t.Errorf("task spawned after the window joined the old batch %q", t3.BatchID)
	}
}

func TestSubagentManager_BatchConsolidatedSummary(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), msgBus, nil)
	mgr.acceptTimeout = 2 * time.Second
	mgr.launch = newFakeLauncher(func(cc *ControlConn) {
		// Hold both children open long enough that the second spawn has
		// definitely joined the batch before either completes.
		time.Sleep(100 * time.Millisecond)
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "finding"})
	})

	id1, err := mgr.Spawn(context.Background(), "first investigation", "p1", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	id2, err := mgr.Spawn(context.Background(), "second investigation", "p2", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var summary string
	summaryCount := 0
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if msg.Metadata["subagent_event"] == "complete" {
			t.Errorf("multi-task batch emitted a per-task completion: %+v", msg)
		}
		if msg.Metadata["subagent_event"] == "batch_complete" {
			summaryCount++
			summary = msg.Content
			break
		}
	}

	if summaryCount != 1 {
		t.Fatalf("batch summary emitted %d times, want exactly 1", summaryCount)
	}
	for _, want := range []string{"first investigation", "second investigation", "finding", "Completed Tasks: 2"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	// Records belonging to the batch are dropped atomically with emission.
	if _, ok := mgr.GetTask(id1); ok {
		t.Errorf("task %s still retained after batch summary", id1)
	}
	if _, ok := mgr.GetTask(id2); ok {
		t.Errorf("task %s still retained after batch summary", id2)
	}
}

func TestSubagentManager_Cancel_KillsProcess(t *testing.T) {
	block := make(chan struct{})
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), bus.NewMessageBus(), nil)

	var killedFlag int32
	mgr.launch = func(string, string) (subagentProcess, <-chan struct{}, error) {
		exited := make(chan struct{})
		go func() {
			<-block
			close(exited)
		}()
		return fakeProcess{killed: &killedFlag}, exited, nil
	}

	taskID, err := mgr.Spawn(context.Background(), "blocked", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	if err := mgr.Cancel(taskID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	close(block)

	task := waitForStatus(t, mgr, taskID, "cancelled", 2*time.Second)
	if task.Result != "Task cancelled." {
		t.Errorf("Result = %q, want %q", task.Result, "Task cancelled.")
	}
	if atomic.LoadInt32(&killedFlag) != 1 {
		t.Error("expected Cancel to call Kill on the subagent process")
	}
}

func TestSubagentManager_Cancel_UnknownTask(t *testing.T) {
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), nil, nil)
	if err := mgr.Cancel("nope"); err != ErrSubagentTaskNotFound {
		t.Errorf("Cancel() error = %v, want ErrSubagentTaskNotFound", err)
	}
}

func TestSubagentManager_ResultFileFallback(t *testing.T) {
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), nil, nil)
	mgr.acceptTimeout = 2 * time.Second
	mgr.launch = func(_, taskFilePath string) (subagentProcess, <-chan struct{}, error) {
		data, err := os.ReadFile(taskFilePath)
		if err != nil {
			return nil, nil, err
		}
		var tf SubagentTaskFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, nil, err
		}
		// Simulate a child that writes its side-channel result file and
		// crashes before it can report back over the control socket.
		if err := os.WriteFile(tf.ResultFile, []byte("recovered from side channel"), 0o600); err != nil {
			return nil, nil, err
		}
		exited := make(chan struct{})
		close(exited)
		return fakeProcess{}, exited, nil
	}

	taskID, err := mgr.Spawn(context.Background(), "crashy", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	task := waitForStatus(t, mgr, taskID, "completed", 2*time.Second)
	if task.Result != "recovered from side channel" {
		t.Errorf("Result = %q, want %q", task.Result, "recovered from side channel")
	}
}

func TestSubagentManager_NoResultNoFile_Fails(t *testing.T) {
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), nil, nil)
	mgr.acceptTimeout = 50 * time.Millisecond
	mgr.launch = func(string, string) (subagentProcess, <-chan struct{}, error) {
		exited := make(chan struct{})
		close(exited)
		return fakeProcess{}, exited, nil
	}

	taskID, err := mgr.Spawn(context.Background(), "silent", "do work", "telegram", "chat1", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	task := waitForStatus(t, mgr, taskID, "failed", 2*time.Second)
	if task.Result != "Result file not found" {
		t.Errorf("Result = %q, want %q", task.Result, "Result file not found")
	}
}

func TestSubagentManager_TakeResults_Clear(t *testing.T) {
	mgr := newTestManager(t, func(cc *ControlConn) {
		_ = cc.Send(ControlMessage{Type: ctrlTypeResult, Success: true, Result: "payload"})
	})

	taskID, err := mgr.Spawn(context.Background(), "retrieve-me", "do work", "cli", "direct", "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	waitForStatus(t, mgr, taskID, "completed", 2*time.Second)

	results, err := mgr.TakeResults("", true)
	if err != nil {
		t.Fatalf("TakeResults() error: %v", err)
	}
	if len(results) != 1 || results[0].Result != "payload" {
		t.Fatalf("TakeResults() = %+v, want one task with result %q", results, "payload")
	}

	if _, ok := mgr.GetTask(taskID); ok {
		t.Error("task still retained after clear_after_retrieval")
	}
	if _, err := mgr.TakeResults(taskID, false); err != ErrSubagentTaskNotFound {
		t.Errorf("TakeResults(cleared id) error = %v, want ErrSubagentTaskNotFound", err)
	}
}

func TestSubagentManager_Shutdown_KillsAllRunning(t *testing.T) {
	block := make(chan struct{})
	mgr := NewSubagentManager(config.BackendConfig{Provider: "openai", Model: "test-model"}, t.TempDir(), bus.NewMessageBus(), nil)

	var killedFlag int32
	mgr.launch = func(string, string) (subagentProcess, <-chan struct{}, error) {
		exited := make(chan struct{})
		go func() {
			<-block
			close(exited)
		}()
		return fakeProcess{killed: &killedFlag}, exited, nil
	}

	if _, err := mgr.Spawn(context.Background(), "runner", "do work", "telegram", "chat1", ""); err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	mgr.Shutdown()
	close(block)

	if atomic.LoadInt32(&killedFlag) != 1 {
		t.Error("expected Shutdown to kill the running subagent process")
	}
}
