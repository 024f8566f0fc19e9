package conversation

import (
	"strings"

	"github.com/corvid/agentkit/pkg/providers"
)

// modelTokenLimits is the per-model context-window table, carried over
// verbatim from the original agent's centralized token-limit management.
var modelTokenLimits = map[string]int{
	"deepseek-reasoner": 128000,
	"deepseek-chat":      64000,
	"gemini-pro":         128000,
	"pro":                128000,
	"gemini-flash":        64000,
	"flash":               64000,
	"gpt-4":              128000,
	"gpt-3.5":             16000,
	"claude":             200000,
}

const defaultTokenLimit = 32000

// TokenLimit returns the context window for model, falling back to
// substring pattern matching (e.g. any model name containing "flash")
// and finally a conservative default.
func TokenLimit(model string) int {
	if limit, ok := modelTokenLimits[model]; ok {
		return limit
	}
	lower := strings.ToLower(model)
	for pattern, limit := range modelTokenLimits {
		if strings.Contains(lower, pattern) {
			return limit
		}
	}
	return defaultTokenLimit
}

// EstimateTokens is the coarse len/4 heuristic used throughout the
// original agent for budgeting without a real tokenizer.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// CountConversationTokens sums the coarse estimate across all messages,
// adding a fixed per-message structural overhead.
func CountConversationTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 10
	}
	return total
}

// ShouldCompact reports whether messages have crossed 80% of model's
// token limit.
func ShouldCompact(messages []providers.Message, model string) bool {
	limit := TokenLimit(model)
	return CountConversationTokens(messages) > (limit * 80 / 100)
}
