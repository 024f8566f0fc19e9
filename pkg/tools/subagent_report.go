package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvid/agentkit/pkg/bus"
)

// SubagentReporter delivers a subagent_report call to the party that is
// supposed to see it. The execute-task worker process has no shared
// memory with the parent, so the tool can't reach into a *bus.MessageBus
// directly the way it did when subagents ran in-process; it goes through
// whatever transport the reporter wraps instead.
type SubagentReporter interface {
	Report(event, content string, artifacts []string) error
}

// controlConnReporter forwards reports to the parent supervisor over the
// subagent's TCP control socket.
type controlConnReporter struct {
	conn *ControlConn
}

func NewControlConnReporter(conn *ControlConn) SubagentReporter {
	return &controlConnReporter{conn: conn}
}

func (r *controlConnReporter) Report(event, content string, artifacts []string) error {
	return r.conn.Send(ControlMessage{
		Type:      ctrlTypeReport,
		Event:     event,
		Content:   content,
		Artifacts: artifacts,
	})
}

// noopReporter is used when a subagent worker never managed to connect
// back to its parent within the accept timeout (degraded mode): reports
// are swallowed rather than crashing the worker, since the task can
// still finish and leave its result in the side-channel file.
type noopReporter struct{}

func NewNoopReporter() SubagentReporter { return &noopReporter{} }

func (noopReporter) Report(string, string, []string) error { return nil }

// busReporter publishes reports directly onto the shared in-process bus.
// Used by the parent supervisor itself when forwarding a received
// ControlMessage of type "report" from a child into the conversation the
// task originated from.
type busReporter struct {
	bus           *bus.MessageBus
	taskID        string
	label         string
	originChannel string
	originChatID  string
}

func NewBusReporter(b *bus.MessageBus, taskID, label, originChannel, originChatID string) SubagentReporter {
	return &busReporter{bus: b, taskID: taskID, label: label, originChannel: originChannel, originChatID: originChatID}
}

func (r *busReporter) Report(event, content string, artifacts []string) error {
	if r.bus == nil {
		return nil
	}
	msgContent := content
	if len(artifacts) > 0 {
		var sb strings.Builder
		sb.WriteString(content)
		sb.WriteString("\n\nArtifacts:\n")
		for _, p := range artifacts {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
		msgContent = strings.TrimSpace(sb.String())
	}

	md := map[string]string{
		"subagent_event":   event,
		"subagent_task_id": r.taskID,
	}
	if r.label != "" {
		md["subagent_label"] = r.label
	}
	r.bus.PublishInbound(bus.InboundMessage{
		Channel:  "system",
		SenderID: fmt.Sprintf("subagent:%s", r.taskID),
		ChatID:   fmt.Sprintf("%s:%s", r.originChannel, r.originChatID),
		Content:  msgContent,
		Metadata: md,
	})
	return nil
}

// SubagentReportTool lets a subagent send internal updates to whatever is
// supervising it. It does NOT message the end user directly.
type SubagentReportTool struct {
	reporter SubagentReporter
}

func NewSubagentReportTool(reporter SubagentReporter) *SubagentReportTool {
	return &SubagentReportTool{reporter: reporter}
}

func (t *SubagentReportTool) Name() string {
	return "subagent_report"
}

func (t *SubagentReportTool) Description() string {
	return "Report progress or intermediate results back to the supervising agent (internal only). This does NOT message the user."
}

func (t *SubagentReportTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The update to send to the main agent",
			},
			"event": map[string]interface{}{
				"type":        "string",
				"description": "Event type: progress, note, warning, error, complete",
				"enum":        []string{"progress", "note", "warning", "error", "complete"},
			},
			"artifacts": map[string]interface{}{
				"type":        "array",
				"description": "Optional file paths produced by the subagent (images, outputs, etc.)",
				"items": map[string]interface{}{
					"type": "string",
				},
			},
		},
		"required": []string{"content"},
	}
}

func (t *SubagentReportTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required")
	}

	event, _ := args["event"].(string)
	if event == "" {
		event = "progress"
	}

	var artifacts []string
	if raw, ok := args["artifacts"]; ok {
		if arr, ok := raw.([]interface{}); ok {
			for _, v := range arr {
				if s, ok := v.(string); ok && s != "" {
					artifacts = append(artifacts, s)
				}
			}
		}
	}

	if t.reporter != nil {
		if err := t.reporter.Report(event, content, artifacts); err != nil {
			return "", fmt.Errorf("report failed: %w", err)
		}
	}

	return "Reported to main agent", nil
}
