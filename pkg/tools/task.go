package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/corvid/agentkit/pkg/utils"
)

// NewTaskTools returns the three subagent-facing tools backed by manager:
// task (spawn), task_status, and task_results.
func NewTaskTools(manager *SubagentManager) []Tool {
	return []Tool{
		NewTaskTool(manager),
		NewTaskStatusTool(manager),
		NewTaskResultsTool(manager),
	}
}

// TaskTool spawns a subagent subprocess for a self-contained unit of
// work and returns immediately; the subagent reports back through the
// supervisor while the main conversation continues.
type TaskTool struct {
	manager *SubagentManager

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewTaskTool(manager *SubagentManager) *TaskTool {
	return &TaskTool{manager: manager}
}

// SetContext records the default origin channel/chat used when a task
// call arrives with no execution context attached (e.g. called directly
// rather than through the registry's dispatch path).
func (t *TaskTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *TaskTool) defaultContext() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel, t.chatID
}

func (t *TaskTool) Name() string { return "task" }

func (t *TaskTool) Description() string {
	return "Spawn a background subagent for long multi-step work (research, complex builds, parallel investigation). Returns immediately with a task id; use task_status and task_results to follow up."
}

func (t *TaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Short description of the task (for display and summaries)",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Full instructions for the subagent to carry out",
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Optional additional context appended to the prompt",
			},
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Optional model override for this task, naming one of the configured backends' models",
			},
		},
		"required": []string{"description", "prompt"},
	}
}

func (t *TaskTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if IsSubagentRoleDisabled(ctx) {
		return "Error: spawning subagents from a forwarded tool call is not allowed", nil
	}
	if t.manager == nil {
		return "Error: Subagent manager not configured", nil
	}

	description, _ := args["description"].(string)
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("description is required")
	}
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	if extra, _ := args["context"].(string); strings.TrimSpace(extra) != "" {
		prompt += "\n\nADDITIONAL CONTEXT:\n" + extra
	}

	origin := execContextFromArgs(args)
	originChannel, originChatID := origin.Channel, origin.ChatID
	if originChannel == "" || originChatID == "" {
		defChannel, defChatID := t.defaultContext()
		if originChannel == "" {
			originChannel = defChannel
		}
		if originChatID == "" {
			originChatID = defChatID
		}
	}
	if originChannel == "" {
		originChannel = "cli"
	}
	if originChatID == "" {
		originChatID = "direct"
	}

	model, _ := args["model"].(string)
	taskID, err := t.manager.Spawn(ctx, description, prompt, originChannel, originChatID, model)
	if err != nil {
		return "", fmt.Errorf("failed to spawn subagent: %w", err)
	}

	return fmt.Sprintf(`[SUBAGENT TASK STARTED]
Task ID: %s
Description: %s
Status: Running in subprocess

The subagent is now running independently and will report progress. You can continue with other tasks while this completes.`, taskID, description), nil
}

// TaskStatusTool reports the state of one task, or of every retained
// task when no id is given.
type TaskStatusTool struct {
	manager *SubagentManager
}

func NewTaskStatusTool(manager *SubagentManager) *TaskStatusTool {
	return &TaskStatusTool{manager: manager}
}

func (t *TaskStatusTool) Name() string { return "task_status" }

func (t *TaskStatusTool) Description() string {
	return "Check the status of a spawned subagent task, or of all tasks when no task_id is given."
}

func (t *TaskStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task ID to check; omit to list every task",
			},
		},
	}
}

func (t *TaskStatusTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	if t.manager == nil {
		return "Error: Subagent manager not configured", nil
	}

	taskID, _ := args["task_id"].(string)
	if strings.TrimSpace(taskID) != "" {
		task, ok := t.manager.GetTask(taskID)
		if !ok {
			return fmt.Sprintf("Task %s not found", taskID), nil
		}
		return formatSubagentTask(*task, true), nil
	}

	tasks := t.manager.ListTasks()
	if len(tasks) == 0 {
		return "No subagent tasks.", nil
	}
	lines := make([]string, 0, len(tasks))
	for _, task := range tasks {
		lines = append(lines, formatSubagentTask(*task, true))
	}
	return strings.Join(lines, "\n\n"), nil
}

// TaskResultsTool retrieves the full results of finished tasks. With
// clear_after_retrieval, the returned records are dropped from the
// supervisor's live map.
type TaskResultsTool struct {
	manager *SubagentManager
}

func NewTaskResultsTool(manager *SubagentManager) *TaskResultsTool {
	return &TaskResultsTool{manager: manager}
}

func (t *TaskResultsTool) Name() string { return "task_results" }

func (t *TaskResultsTool) Description() string {
	return "Retrieve the full results of finished subagent tasks. Set clear_after_retrieval to drop the records once read."
}

func (t *TaskResultsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task ID to retrieve; omit for every finished task",
			},
			"clear_after_retrieval": map[string]interface{}{
				"type":        "boolean",
				"description": "Drop the retrieved records from the task list (default false)",
			},
		},
	}
}

func (t *TaskResultsTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	if t.manager == nil {
		return "Error: Subagent manager not configured", nil
	}

	taskID, _ := args["task_id"].(string)
	clear, _ := args["clear_after_retrieval"].(bool)

	tasks, err := t.manager.TakeResults(strings.TrimSpace(taskID), clear)
	if err != nil {
		if errors.Is(err, ErrSubagentTaskNotFound) {
			return fmt.Sprintf("Task %s not found", taskID), nil
		}
		return "", err
	}
	if len(tasks) == 0 {
		return "No finished subagent tasks.", nil
	}

	parts := make([]string, 0, len(tasks))
	for _, task := range tasks {
		parts = append(parts, formatSubagentTask(task, false))
	}
	return strings.Join(parts, "\n\n"), nil
}

// formatSubagentTask renders one task record. truncate limits the result
// preview for status listings; results retrieval returns the payload in
// full.
func formatSubagentTask(task SubagentTask, truncate bool) string {
	label := task.Description
	if label == "" {
		label = task.ID
	}
	result := task.Result
	if strings.TrimSpace(result) == "" {
		result = "(no result yet)"
	}
	if truncate {
		result = utils.Truncate(result, 200)
	}

	return fmt.Sprintf("Task %s\nID: %s\nBatch: %s\nStatus: %s\nResult: %s", label, task.ID, task.BatchID, task.Status, result)
}
