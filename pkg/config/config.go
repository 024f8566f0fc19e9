// Package config loads and persists agentkit's configuration document:
// a JSON file at ~/.mcp/config.json, overlaid with environment variables
// via caarlos0/env. This mirrors the teacher's JSON-document-plus-env-
// overlay convention, generalized to the four named backend slots
// (chat, reason, gemini, gemini_pro) the conversation controller
// switches between via slash commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// BackendConfig describes one of the four named model backends.
type BackendConfig struct {
	Provider    string  `json:"provider" env:"PROVIDER"` // "openai", "anthropic", "gemini"
	Model       string  `json:"model" env:"MODEL"`
	Temperature float64 `json:"temperature" env:"TEMPERATURE" envDefault:"0.7"`
	APIBase     string  `json:"api_base" env:"API_BASE"`
	APIKeyEnv   string  `json:"api_key_env" env:"API_KEY_ENV"`
}

// MCPServerConfig describes one configured remote tool server.
type MCPServerConfig struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	Transport string            `json:"transport"` // "stdio" (default) or "ws"
}

// ToolPolicyConfig is the allow/deny tool-name policy applied at dispatch.
type ToolPolicyConfig struct {
	Enabled bool     `json:"enabled"`
	Allow   []string `json:"allow"`
	Deny    []string `json:"deny"`
}

// RuntimeConfig tunes the conversation controller and tool dispatcher.
// It has no original_source analogue by name, but every field here maps
// onto a concrete constant or config read in agent.py (max tool-call
// iterations, per-call timeouts, status-ping delay, search provider key).
type RuntimeConfig struct {
	MaxToolIterations    int    `json:"max_tool_iterations" env:"AGENTKIT_MAX_TOOL_ITERATIONS" envDefault:"25"`
	LLMTimeoutSeconds    int    `json:"llm_timeout_seconds" env:"AGENTKIT_LLM_TIMEOUT_SECONDS" envDefault:"120"`
	ToolTimeoutSeconds   int    `json:"tool_timeout_seconds" env:"AGENTKIT_TOOL_TIMEOUT_SECONDS" envDefault:"60"`
	MaxParallelToolCalls int    `json:"max_parallel_tool_calls" env:"AGENTKIT_MAX_PARALLEL_TOOL_CALLS" envDefault:"4"`
	StatusDelaySeconds   int    `json:"status_delay_seconds" env:"AGENTKIT_STATUS_DELAY_SECONDS" envDefault:"30"`
	WebSearchAPIKeyEnv   string `json:"web_search_api_key_env" env:"AGENTKIT_WEB_SEARCH_API_KEY_ENV" envDefault:"BRAVE_API_KEY"`
	WebSearchMaxResults  int    `json:"web_search_max_results" env:"AGENTKIT_WEB_SEARCH_MAX_RESULTS" envDefault:"5"`
}

// Config is the root document persisted at ~/.mcp/config.json.
type Config struct {
	ActiveBackend string                      `json:"active_backend" env:"AGENTKIT_ACTIVE_BACKEND" envDefault:"chat"`
	Backends      map[string]*BackendConfig   `json:"backends"`
	MCPServers    map[string]*MCPServerConfig `json:"mcp_servers"`
	ToolPolicy    ToolPolicyConfig            `json:"tool_policy"`
	Runtime       RuntimeConfig               `json:"runtime"`

	Workspace string `json:"workspace" env:"AGENTKIT_WORKSPACE"`
}

// WorkspacePath returns the absolute workspace directory, defaulting to
// the current directory when unset.
func (c *Config) WorkspacePath() string {
	if c.Workspace == "" {
		return "."
	}
	return c.Workspace
}

// WebSearchAPIKey resolves the configured web-search API key from its
// environment variable.
func (c *Config) WebSearchAPIKey() string {
	if c.Runtime.WebSearchAPIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Runtime.WebSearchAPIKeyEnv)
}

// DefaultConfig returns the document written by `agentkit init`.
func DefaultConfig() *Config {
	return &Config{
		ActiveBackend: "chat",
		Backends: map[string]*BackendConfig{
			"chat": {
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				APIKeyEnv:   "OPENAI_API_KEY",
			},
			"reason": {
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-20250514",
				Temperature: 0.7,
				APIKeyEnv:   "ANTHROPIC_API_KEY",
			},
			"gemini": {
				Provider:    "gemini",
				Model:       "gemini-2.0-flash",
				Temperature: 0.7,
				APIKeyEnv:   "GEMINI_API_KEY",
			},
			"gemini_pro": {
				Provider:    "gemini",
				Model:       "gemini-2.5-pro",
				Temperature: 0.7,
				APIKeyEnv:   "GEMINI_API_KEY",
			},
		},
		MCPServers: map[string]*MCPServerConfig{},
		ToolPolicy: ToolPolicyConfig{Enabled: false},
		Runtime: RuntimeConfig{
			MaxToolIterations:    25,
			LLMTimeoutSeconds:    120,
			ToolTimeoutSeconds:   60,
			MaxParallelToolCalls: 4,
			StatusDelaySeconds:   30,
			WebSearchAPIKeyEnv:   "BRAVE_API_KEY",
			WebSearchMaxResults:  5,
		},
		Workspace: ".",
	}
}

// DefaultPath returns ~/.mcp/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mcp", "config.json"), nil
}

// Load reads the config document at path, applies the environment overlay,
// and returns it. A missing file yields DefaultConfig() with the full
// overlay applied rather than an error. When the file exists, only the
// per-backend AGENTKIT_<name>_* variables are applied; the top-level
// AGENTKIT_* variables are not read.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, fmt.Errorf("apply env overlay: %w", envErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for name, b := range cfg.Backends {
		if b == nil {
			continue
		}
		if err := env.ParseWithOptions(b, env.Options{Prefix: "AGENTKIT_" + name + "_"}); err != nil {
			return nil, fmt.Errorf("apply env overlay for backend %s: %w", name, err)
		}
	}

	return cfg, nil
}

// Save writes the config document to path, creating parent directories
// as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Backend returns the named backend's config, or an error naming the
// missing key (surfaced to callers as CONFIG_MISSING_KEY).
func (c *Config) Backend(name string) (*BackendConfig, error) {
	b, ok := c.Backends[name]
	if !ok || b == nil {
		return nil, fmt.Errorf("config: missing backend %q", name)
	}
	return b, nil
}

// APIKey resolves a backend's API key from its configured environment
// variable name.
func (b *BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}
