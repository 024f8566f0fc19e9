package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid/agentkit/pkg/bus"
	"github.com/corvid/agentkit/pkg/commands"
	"github.com/corvid/agentkit/pkg/config"
	"github.com/corvid/agentkit/pkg/conversation"
	"github.com/corvid/agentkit/pkg/input"
	"github.com/corvid/agentkit/pkg/logger"
	"github.com/corvid/agentkit/pkg/mcp"
	"github.com/corvid/agentkit/pkg/providers"
	"github.com/corvid/agentkit/pkg/telemetry"
)

const cliSessionKey = "cli:direct"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		for {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			reload, err := runChatSession(cmd.Context(), cfg, path)
			if err != nil {
				return err
			}
			if !reload {
				return nil
			}
			// reload_host: fall through and rebuild the session against
			// the freshly saved config.
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		host, err := newChatHost(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer host.shutdown()

		response, err := host.controller.ProcessDirect(cmd.Context(), strings.Join(args, " "), cliSessionKey)
		if err != nil {
			return fmt.Errorf("generating response: %w", err)
		}
		fmt.Println(response)
		return nil
	},
}

// chatHost bundles one session's collaborators so chat and ask share
// construction and teardown.
type chatHost struct {
	bus        *bus.MessageBus
	controller *conversation.Controller
	mcpManager *mcp.Manager

	telemetryShutdown func(context.Context) error
	printerStop       context.CancelFunc
}

func newChatHost(ctx context.Context, cfg *config.Config) (*chatHost, error) {
	host := &chatHost{}

	if endpoint := os.Getenv("AGENTKIT_OTEL_ENDPOINT"); endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := telemetry.Init(ctx, "agentkit", endpoint)
		if err != nil {
			logger.WarnCF("cli", "telemetry disabled", map[string]interface{}{"error": err.Error()})
		} else {
			host.telemetryShutdown = shutdown
		}
	}

	provider, err := providers.CreateProvider(ctx, cfg, cfg.ActiveBackend)
	if err != nil {
		return nil, err
	}

	host.bus = bus.NewMessageBus()
	controller, err := conversation.New(cfg, cfg.ActiveBackend, host.bus, provider)
	if err != nil {
		host.bus.Close()
		return nil, err
	}
	host.controller = controller

	host.mcpManager = mcp.NewManager(controller.Tools())
	servers := make(map[string]*config.MCPServerConfig, len(cfg.MCPServers)+len(serverFlags))
	for name, s := range cfg.MCPServers {
		servers[name] = s
	}
	for _, spec := range serverFlags {
		name, s, err := parseServerSpec(spec)
		if err != nil {
			host.shutdown()
			return nil, err
		}
		servers[name] = s
	}
	host.mcpManager.ConnectAll(ctx, servers)

	// Consume the controller's outbound traffic (subagent progress,
	// batch summaries, turn responses for system-triggered turns) and
	// print it whole lines at a time.
	printerCtx, printerStop := context.WithCancel(context.Background())
	host.printerStop = printerStop
	go func() {
		for {
			msg, ok := host.bus.SubscribeOutbound(printerCtx)
			if !ok {
				return
			}
			fmt.Printf("\n%s\n", strings.TrimRight(msg.Content, "\n"))
		}
	}()

	return host, nil
}

// shutdown is the orderly teardown: kill subagent children, close
// remote-tool transports, stop the printer, flush telemetry.
func (h *chatHost) shutdown() {
	if h.controller != nil {
		h.controller.Shutdown()
	}
	if h.mcpManager != nil {
		h.mcpManager.Shutdown()
	}
	if h.printerStop != nil {
		h.printerStop()
	}
	if h.bus != nil {
		h.bus.Close()
	}
	if h.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.telemetryShutdown(ctx)
	}
}

// runChatSession runs the interactive loop until quit (false) or a
// reload_host directive (true).
func runChatSession(ctx context.Context, cfg *config.Config, configPath string) (reload bool, err error) {
	host, err := newChatHost(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer host.shutdown()

	// Bus-driven dispatch services subagent completion reports while
	// the user's own turns run through ProcessDirect below.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() { _ = host.controller.Run(runCtx) }()

	router := commands.NewRouter(cfg, configPath, host.controller.Tools(), host.controller.Model())
	in := input.NewHandler()

	fmt.Println("Starting interactive chat. Type /quit or /exit to end, /tools to list available tools.")
	fmt.Println("Use /help for slash commands. Press ESC during a response to interrupt it.")
	fmt.Println()

	for {
		in.Reset()

		line, ok := in.GetInput("> ", false, false)
		if !ok {
			if in.Interrupted() {
				continue
			}
			// EOF: treat like /quit.
			fmt.Println("Goodbye!")
			return false, nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		turnInput := line
		if strings.HasPrefix(line, "/") {
			res := router.Handle(line, host.controller.History(cliSessionKey))
			if res.Response != "" {
				fmt.Println(res.Response)
			}
			switch res.Directive {
			case commands.DirectiveQuit:
				return false, nil
			case commands.DirectiveReloadHost:
				return true, nil
			case commands.DirectiveClear:
				host.controller.ClearSession(cliSessionKey)
				continue
			case commands.DirectiveCompact:
				stats, err := host.controller.CompactNow(cliSessionKey)
				if err != nil {
					fmt.Printf("❌ Failed to compact conversation: %v\n", err)
				} else {
					fmt.Printf("✅ Conversation compacted: %d → %d messages\n📊 Token usage: ~%d → ~%d tokens\n",
						stats.MessagesBefore, stats.MessagesAfter, stats.TokensBefore, stats.TokensAfter)
				}
				continue
			case commands.DirectivePrompt:
				turnInput = res.Prompt
			default:
				continue
			}
		}

		response, cancelled, err := runInterruptibleTurn(ctx, host.controller, in, turnInput)
		switch {
		case cancelled:
			fmt.Println("\n(interrupted)")
		case err != nil:
			fmt.Printf("Error generating response: %v\n", err)
		default:
			fmt.Printf("\n%s\n\n", response)
		}
	}
}

// runInterruptibleTurn drives one model turn with the terminal in raw
// mode so a lone ESC cancels the in-flight completion. The interrupt
// flag is polled at a short interval; raising it cancels the turn's
// context, and the terminal attributes are restored regardless of how
// the turn ends.
func runInterruptibleTurn(ctx context.Context, controller *conversation.Controller, in *input.Handler, text string) (response string, cancelled bool, err error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watch := in.WatchForEscape()
	defer watch.Close()

	pollDone := make(chan struct{})
	defer close(pollDone)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pollDone:
				return
			case <-ticker.C:
				if in.Interrupted() {
					cancel()
					return
				}
			}
		}
	}()

	response, err = controller.ProcessDirect(turnCtx, text, cliSessionKey)
	if in.Interrupted() || turnCtx.Err() == context.Canceled && ctx.Err() == nil {
		return "", true, nil
	}
	return response, false, err
}
