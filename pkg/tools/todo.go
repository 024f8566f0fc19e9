package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TodoItem is one entry in a session's todo list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // "pending", "in_progress", "completed"
}

func todoFilePath(sessionID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "agent", fmt.Sprintf("todos_%s.json", sessionID)), nil
}

func loadTodos(sessionID string) ([]TodoItem, error) {
	path, err := todoFilePath(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []TodoItem{}, nil
		}
		return nil, fmt.Errorf("read todos: %w", err)
	}
	var items []TodoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse todos: %w", err)
	}
	return items, nil
}

func saveTodos(sessionID string, items []TodoItem) error {
	path, err := todoFilePath(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create todo directory: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// TodoReadTool returns the current session's todo list as JSON.
type TodoReadTool struct{}

func (t *TodoReadTool) Name() string        { return "todo_read" }
func (t *TodoReadTool) Description() string { return "Read the current session's todo list." }
func (t *TodoReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"session_id"},
	}
}

func (t *TodoReadTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	sessionID, _ := args["session_id"].(string)
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session_id is required")
	}
	items, err := loadTodos(sessionID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal todos: %w", err)
	}
	return string(data), nil
}

// TodoWriteTool overwrites the current session's todo list.
type TodoWriteTool struct{}

func (t *TodoWriteTool) Name() string        { return "todo_write" }
func (t *TodoWriteTool) Description() string { return "Overwrite the current session's todo list." }
func (t *TodoWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
			"todos": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content": map[string]interface{}{"type": "string"},
						"status":  map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
				},
			},
		},
		"required": []string{"session_id", "todos"},
	}
}

func (t *TodoWriteTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	sessionID, _ := args["session_id"].(string)
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session_id is required")
	}

	raw, ok := args["todos"].([]interface{})
	if !ok {
		return "", fmt.Errorf("todos is required")
	}

	items := make([]TodoItem, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		if status == "" {
			status = "pending"
		}
		items = append(items, TodoItem{Content: content, Status: status})
	}

	if err := saveTodos(sessionID, items); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved %d todo(s)", len(items)), nil
}
