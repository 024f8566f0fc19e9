package providers

import (
	"context"
	"fmt"

	"github.com/corvid/agentkit/pkg/config"
)

// CreateProvider builds the concrete LLMProvider for one of the config
// document's named backend slots ("chat", "reason", "gemini",
// "gemini_pro"), selected by the backend's configured Provider field
// rather than by sniffing the model name.
func CreateProvider(ctx context.Context, cfg *config.Config, backendName string) (LLMProvider, error) {
	b, err := cfg.Backend(backendName)
	if err != nil {
		return nil, err
	}
	return CreateProviderFromBackend(ctx, b)
}

// CreateProviderFromBackend builds a provider directly from a resolved
// BackendConfig, for callers that don't hold a named slot in a full
// Config document — e.g. the execute-task subagent worker, which
// receives its backend settings serialized into its task file rather
// than through ~/.mcp/config.json.
func CreateProviderFromBackend(ctx context.Context, b *config.BackendConfig) (LLMProvider, error) {
	apiKey := b.APIKey()

	switch b.Provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey, b.Model)
	case "gemini":
		return NewGenAIProvider(ctx, apiKey, b.Model)
	case "openai", "":
		apiBase := b.APIBase
		if apiBase == "" {
			apiBase = "https://api.openai.com/v1"
		}
		return NewOpenAIProvider(apiKey, apiBase, b.Model), nil
	case "http":
		if b.APIBase == "" {
			return nil, fmt.Errorf("config: backend model %q needs api_base for provider=http", b.Model)
		}
		return NewHTTPProvider(apiKey, b.APIBase, b.Model), nil
	default:
		return nil, fmt.Errorf("config: unknown provider %q for backend model %q", b.Provider, b.Model)
	}
}
