package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

func TestTodoTools_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	write := &TodoWriteTool{}
	read := &TodoReadTool{}

	want := []TodoItem{
		{Content: "write the report", Status: "in_progress"},
		{Content: "file the expense", Status: "pending"},
	}

	result, err := write.Execute(context.Background(), map[string]interface{}{
		"session_id": "sess1",
		"todos": []interface{}{
			map[string]interface{}{"content": "write the report", "status": "in_progress"},
			map[string]interface{}{"content": "file the expense"},
		},
	})
	if err != nil {
		t.Fatalf("todo_write error: %v", err)
	}
	if result != "Saved 2 todo(s)" {
		t.Errorf("todo_write result = %q", result)
	}

	raw, err := read.Execute(context.Background(), map[string]interface{}{"session_id": "sess1"})
	if err != nil {
		t.Fatalf("todo_read error: %v", err)
	}
	var got []TodoItem
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("todo_read returned invalid JSON: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestTodoRead_MissingFileIsEmptyList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	raw, err := (&TodoReadTool{}).Execute(context.Background(), map[string]interface{}{"session_id": "fresh"})
	if err != nil {
		t.Fatalf("todo_read error: %v", err)
	}
	if raw != "[]" {
		t.Errorf("todo_read on missing file = %q, want []", raw)
	}
}

func TestTodoTools_SessionsAreIsolated(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := (&TodoWriteTool{}).Execute(context.Background(), map[string]interface{}{
		"session_id": "a",
		"todos":      []interface{}{map[string]interface{}{"content": "only in a", "status": "pending"}},
	}); err != nil {
		t.Fatalf("todo_write error: %v", err)
	}

	raw, err := (&TodoReadTool{}).Execute(context.Background(), map[string]interface{}{"session_id": "b"})
	if err != nil {
		t.Fatalf("todo_read error: %v", err)
	}
	if raw != "[]" {
		t.Errorf("session b sees session a's todos: %q", raw)
	}
}
