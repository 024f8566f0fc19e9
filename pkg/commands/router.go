// Package commands routes in-process slash commands for the interactive
// chat loop: the builtin set (/help, /clear, /compact, /tokens, /model,
// /tools, /review, /quit, the backend switch commands), the mcp__
// namespace, and custom markdown commands loaded from the project's and
// the user's .claude/commands directories.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corvid/agentkit/pkg/config"
	"github.com/corvid/agentkit/pkg/conversation"
	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/tools"
)

// Directive tells the chat loop what to do after a handled command,
// beyond printing the response text.
type Directive string

const (
	DirectiveNone       Directive = ""
	DirectiveQuit       Directive = "quit"
	DirectiveClear      Directive = "clear"
	DirectiveCompact    Directive = "compact"
	DirectiveReloadHost Directive = "reload_host"
	// DirectivePrompt asks the loop to feed Result.Prompt to the model
	// as if the user had typed it (used by /review and custom commands).
	DirectivePrompt Directive = "prompt"
)

// Result is the outcome of routing one input line.
type Result struct {
	Handled      bool
	Response     string
	Directive    Directive
	ReloadTarget string // backend name, for DirectiveReloadHost
	Prompt       string // model input, for DirectivePrompt
}

type customCommand struct {
	Name  string
	Body  string
	Scope string // "project" or "personal"
	Path  string
}

// Router parses and executes slash commands. It mutates the persistent
// config document for the switch-* family and reads the tool registry
// for /tools and /help; everything session-shaped (history, compaction)
// is delegated back to the chat loop through directives.
type Router struct {
	cfg        *config.Config
	configPath string
	registry   *tools.ToolRegistry
	model      string
	custom     map[string]customCommand
}

func NewRouter(cfg *config.Config, configPath string, registry *tools.ToolRegistry, model string) *Router {
	r := &Router{
		cfg:        cfg,
		configPath: configPath,
		registry:   registry,
		model:      model,
		custom:     make(map[string]customCommand),
	}
	r.loadCustomCommands()
	return r
}

// loadCustomCommands reads *.md files from ./.claude/commands (project
// scope) and ~/.claude/commands (personal scope); the file stem becomes
// the command name, personal definitions shadowing project ones.
func (r *Router) loadCustomCommands() {
	r.loadCommandsDir(".claude/commands", "project")
	if home, err := os.UserHomeDir(); err == nil {
		r.loadCommandsDir(filepath.Join(home, ".claude", "commands"), "personal")
	}
}

func (r *Router) loadCommandsDir(dir, scope string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.WarnCF("commands", "failed to load custom command",
				map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		r.custom[name] = customCommand{Name: name, Body: string(data), Scope: scope, Path: path}
	}
}

// Handle routes one input line. Lines not starting with "/" come back
// with Handled=false untouched. messages is the active session's
// history, consulted by /tokens.
func (r *Router) Handle(line string, messages []providers.Message) Result {
	if !strings.HasPrefix(line, "/") {
		return Result{}
	}

	parts := strings.SplitN(strings.TrimPrefix(line, "/"), " ", 2)
	command := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "help":
		return Result{Handled: true, Response: r.helpText()}
	case "clear":
		return Result{Handled: true, Response: "Conversation history cleared.", Directive: DirectiveClear}
	case "compact":
		return Result{Handled: true, Directive: DirectiveCompact}
	case "tokens":
		return Result{Handled: true, Response: r.tokensText(messages)}
	case "model":
		return r.handleModel(args)
	case "review":
		return r.handleReview(args)
	case "tools":
		return Result{Handled: true, Response: r.toolsText()}
	case "quit", "exit":
		return Result{Handled: true, Response: "Goodbye!", Directive: DirectiveQuit}
	case "switch-chat":
		return r.handleSwitch("chat", "chat backend")
	case "switch-reason":
		return r.handleSwitch("reason", "reasoning backend")
	case "switch-gemini":
		return r.handleSwitch("gemini", "Gemini Flash backend")
	case "switch-gemini-pro":
		return r.handleSwitch("gemini_pro", "Gemini Pro backend")
	}

	if strings.HasPrefix(command, "mcp__") {
		return r.handleMCP(command, args)
	}
	if strings.Contains(command, ":") {
		_, name, _ := strings.Cut(command, ":")
		return r.handleCustom(name, command, args)
	}
	if _, ok := r.custom[command]; ok {
		return r.handleCustom(command, command, args)
	}

	return Result{Handled: true, Response: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", command)}
}

func (r *Router) helpText() string {
	var sb strings.Builder
	sb.WriteString(`Available Commands:

Built-in Commands:
  /help           - Show this help message
  /clear          - Clear conversation history
  /compact        - Compact conversation history into a summary
  /tokens         - Show current token usage statistics
  /model [name]   - Show current model or set the active backend's model
  /review [file]  - Request code review of a file
  /tools          - List all available tools
  /quit, /exit    - Exit the interactive chat

Model Switching:
  /switch-chat    - Switch to the chat backend
  /switch-reason  - Switch to the reasoning backend
  /switch-gemini  - Switch to the Gemini Flash backend
  /switch-gemini-pro - Switch to the Gemini Pro backend

Custom Commands:`)

	if len(r.custom) == 0 {
		sb.WriteString("\n  (No custom commands found)")
	} else {
		names := make([]string, 0, len(r.custom))
		for name := range r.custom {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "\n  /%s - %s command", name, r.custom[name].Scope)
		}
	}

	servers := r.remoteOrigins()
	if len(servers) > 0 {
		sb.WriteString("\n\nMCP Commands:")
		for _, server := range servers {
			fmt.Fprintf(&sb, "\n  /mcp__%s__<prompt-name>", server)
		}
	}
	return sb.String()
}

// remoteOrigins lists the non-builtin origins present in the registry.
func (r *Router) remoteOrigins() []string {
	seen := map[string]bool{}
	for _, key := range r.registry.List() {
		origin, _, ok := strings.Cut(key, ":")
		if ok && origin != "builtin" {
			seen[origin] = true
		}
	}
	origins := make([]string, 0, len(seen))
	for origin := range seen {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}

func (r *Router) tokensText(messages []providers.Message) string {
	if len(messages) == 0 {
		return "No conversation history to analyze."
	}
	tokens := conversation.CountConversationTokens(messages)
	limit := conversation.TokenLimit(r.model)
	percentage := float64(tokens) / float64(limit) * 100

	result := fmt.Sprintf("📊 Token usage: ~%d/%d (%.1f%%)", tokens, limit, percentage)
	if percentage > 80 {
		result += "\n⚠️  Consider using '/compact' to reduce token usage"
	}
	return result
}

func (r *Router) toolsText() string {
	summaries := r.registry.GetSummaries()
	if len(summaries) == 0 {
		return "No tools available."
	}
	return "Available tools:\n" + strings.Join(summaries, "\n")
}

func (r *Router) handleModel(args string) Result {
	if args == "" {
		return Result{Handled: true, Response: fmt.Sprintf("Current model: %s", r.model)}
	}

	backend, err := r.cfg.Backend(r.cfg.ActiveBackend)
	if err != nil {
		return Result{Handled: true, Response: fmt.Sprintf("❌ Failed to switch model: %v", err)}
	}
	backend.Model = args
	if err := config.Save(r.configPath, r.cfg); err != nil {
		return Result{Handled: true, Response: fmt.Sprintf("❌ Failed to switch model: %v", err)}
	}
	return Result{
		Handled:      true,
		Response:     fmt.Sprintf("✅ Model switched to: %s", args),
		Directive:    DirectiveReloadHost,
		ReloadTarget: r.cfg.ActiveBackend,
	}
}

func (r *Router) handleSwitch(backendName, label string) Result {
	if _, err := r.cfg.Backend(backendName); err != nil {
		return Result{Handled: true, Response: fmt.Sprintf("❌ Failed to switch backend: %v", err)}
	}
	r.cfg.ActiveBackend = backendName
	if err := config.Save(r.configPath, r.cfg); err != nil {
		return Result{Handled: true, Response: fmt.Sprintf("❌ Failed to switch backend: %v", err)}
	}
	backend, _ := r.cfg.Backend(backendName)
	return Result{
		Handled:      true,
		Response:     fmt.Sprintf("✅ Backend switched to: %s (%s)", label, backend.Model),
		Directive:    DirectiveReloadHost,
		ReloadTarget: backendName,
	}
}

func (r *Router) handleReview(args string) Result {
	if args == "" {
		return Result{Handled: true, Response: "Please specify a file to review: /review <file_path>"}
	}

	data, err := os.ReadFile(args)
	if err != nil {
		return Result{Handled: true, Response: fmt.Sprintf("❌ Cannot read %s: %v", args, err)}
	}

	prompt := fmt.Sprintf(`Please review the following file and report concrete issues (bugs, edge cases, unclear naming) before style nits.

File: %s

%s`, args, string(data))
	return Result{Handled: true, Directive: DirectivePrompt, Prompt: prompt}
}

func (r *Router) handleMCP(command, args string) Result {
	parts := strings.Split(command, "__")
	if len(parts) != 3 || parts[0] != "mcp" {
		return Result{Handled: true, Response: fmt.Sprintf("Invalid MCP command format: /%s", command)}
	}
	serverName, promptName := parts[1], parts[2]

	found := false
	for _, origin := range r.remoteOrigins() {
		if origin == serverName {
			found = true
			break
		}
	}
	if !found {
		return Result{Handled: true, Response: fmt.Sprintf("MCP server '%s' not found or has no available tools.", serverName)}
	}

	return Result{Handled: true, Response: fmt.Sprintf("MCP command execution not fully implemented yet.\nServer: %s\nPrompt: %s\nArgs: %s", serverName, promptName, args)}
}

func (r *Router) handleCustom(name, full, args string) Result {
	cmd, ok := r.custom[name]
	if !ok {
		return Result{Handled: true, Response: fmt.Sprintf("Custom command not found: /%s", full)}
	}

	body := strings.ReplaceAll(cmd.Body, "$ARGUMENTS", args)
	return Result{
		Handled:   true,
		Response:  fmt.Sprintf("Executing custom command '%s'", name),
		Directive: DirectivePrompt,
		Prompt:    body,
	}
}
