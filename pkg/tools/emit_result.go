package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/corvid/agentkit/pkg/logger"
)

// EmitResultTool is only meaningful for a subagent worker process: it
// transmits a final result upstream over whatever the worker's reporter
// wraps, then terminates the process with exit code 0. exitFunc defaults
// to os.Exit and is overridden in tests so Execute doesn't kill the test
// binary.
type EmitResultTool struct {
	reporter SubagentReporter
	exitFunc func(code int)
}

func NewEmitResultTool(reporter SubagentReporter) *EmitResultTool {
	return &EmitResultTool{reporter: reporter, exitFunc: os.Exit}
}

func (t *EmitResultTool) Name() string {
	return "emit_result"
}

func (t *EmitResultTool) Description() string {
	return "Finish this subagent task: send the final result upstream and exit. Only call this once, when the task is complete."
}

func (t *EmitResultTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"result": map[string]interface{}{
				"type":        "string",
				"description": "The final result text for this task",
			},
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Optional one-line summary of the result",
			},
		},
		"required": []string{"result"},
	}
}

func (t *EmitResultTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	result, ok := args["result"].(string)
	if !ok || result == "" {
		return "", fmt.Errorf("result is required")
	}
	summary, _ := args["summary"].(string)

	if t.reporter != nil {
		if r, ok := t.reporter.(*controlConnReporter); ok {
			if err := r.conn.Send(ControlMessage{
				Type:    ctrlTypeResult,
				Success: true,
				Result:  result,
				Summary: summary,
			}); err != nil {
				logger.WarnCF("subagent", "failed to send result upstream", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	exit := t.exitFunc
	if exit == nil {
		exit = os.Exit
	}
	exit(0)
	return result, nil
}
