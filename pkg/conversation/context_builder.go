package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/tools"
)

// ContextBuilder assembles the message list sent to the model: a system
// prompt (tool catalog + workspace/channel context) followed by an
// optional rolling summary, the history, and the new user turn.
type ContextBuilder struct {
	workspace string
	registry  *tools.ToolRegistry
}

func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{workspace: workspace}
}

// SetToolsRegistry wires the registry whose tool catalog is summarized
// into the system prompt.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.registry = registry
}

// BuildMessages assembles the full message list for one LLM turn.
// images is reserved for future multi-modal attachments on the user's
// turn; it is accepted now so callers don't need to change signature
// later, but no provider in this module consumes it yet.
func (cb *ContextBuilder) BuildMessages(history []providers.Message, summary, userMessage string, images []string, channel, chatID string) []providers.Message {
	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: cb.systemPrompt(channel, chatID)})

	if summary != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: "[CONVERSATION SUMMARY] " + summary,
		})
	}

	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: userMessage})
	return messages
}

func (cb *ContextBuilder) systemPrompt(channel, chatID string) string {
	var sb strings.Builder
	sb.WriteString("You are a top-tier autonomous agent. You are in control and responsible for completing the user's request.\n")
	sb.WriteString(fmt.Sprintf("\nCurrent time: %s\n", time.Now().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Workspace: %s\n", cb.workspace))
	if channel != "" {
		sb.WriteString(fmt.Sprintf("Channel: %s (chat %s)\n", channel, chatID))
	}

	if cb.registry != nil {
		summaries := cb.registry.GetSummaries()
		if len(summaries) > 0 {
			sb.WriteString("\n## Available Tools\n\n")
			sb.WriteString("Use tools to perform actions. Do not claim to have done something you haven't actually called a tool for.\n\n")
			sb.WriteString(strings.Join(summaries, "\n"))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// GetSkillsInfo reports no skills catalog — this deployment has no
// skills-loading subsystem, unlike the original agent.
func (cb *ContextBuilder) GetSkillsInfo() map[string]interface{} {
	return map[string]interface{}{"count": 0}
}
