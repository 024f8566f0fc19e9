package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvid/agentkit/pkg/config"
)

var (
	configFileFlag string
	serverFlags    []string
)

var rootCmd = &cobra.Command{
	Use:           "agentkit",
	Short:         "Interactive AI-agent runtime with subagents and MCP tool servers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFileFlag, "config-file", "", "path to the config document (default ~/.mcp/config.json)")

	chatCmd.Flags().StringArrayVar(&serverFlags, "server", nil, "extra tool server as name:command:arg… (repeatable)")
	askCmd.Flags().StringArrayVar(&serverFlags, "server", nil, "extra tool server as name:command:arg… (repeatable)")

	rootCmd.AddCommand(initCmd, chatCmd, askCmd, executeTaskCmd, mcpCmd)
	rootCmd.AddCommand(switchCmd("switch-chat", "chat"), switchCmd("switch-reason", "reason"),
		switchCmd("switch-gemini", "gemini"), switchCmd("switch-gemini-pro", "gemini_pro"))

	mcpCmd.AddCommand(mcpAddCmd, mcpListCmd, mcpRemoveCmd)
	mcpAddCmd.Flags().StringArrayVar(&mcpEnvFlags, "env", nil, "environment variable K=V for the server process (repeatable)")
}

func configPath() (string, error) {
	if configFileFlag != "" {
		return configFileFlag, nil
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config document",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		fmt.Println("Set the API key environment variables referenced there (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY) before chatting.")
		return nil
	},
}

func switchCmd(use, backendName string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Make %q the active backend", backendName),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := cfg.Backend(backendName)
			if err != nil {
				return err
			}
			cfg.ActiveBackend = backendName
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("✅ Active backend: %s (%s)\n", backendName, backend.Model)
			return nil
		},
	}
}

var mcpEnvFlags []string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage configured tool servers",
}

// parseServerSpec splits "name:command:arg:arg…" into its parts.
func parseServerSpec(spec string) (name string, cfg *config.MCPServerConfig, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, fmt.Errorf("invalid server spec %q, want name:command[:arg…]", spec)
	}
	return parts[0], &config.MCPServerConfig{
		Command: parts[1],
		Args:    parts[2:],
		Env:     map[string]string{},
	}, nil
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name:command:arg…>",
	Short: "Add a tool server to the config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		name, server, err := parseServerSpec(args[0])
		if err != nil {
			return err
		}
		for _, kv := range mcpEnvFlags {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --env %q, want K=V", kv)
			}
			server.Env[k] = v
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = map[string]*config.MCPServerConfig{}
		}
		cfg.MCPServers[name] = server
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Added tool server %s\n", name)
		return nil
	},
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tool servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.MCPServers) == 0 {
			fmt.Println("No tool servers configured.")
			return nil
		}
		names := make([]string, 0, len(cfg.MCPServers))
		for name := range cfg.MCPServers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := cfg.MCPServers[name]
			fmt.Printf("%s: %s %s\n", name, s.Command, strings.Join(s.Args, " "))
		}
		return nil
	},
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a configured tool server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if _, ok := cfg.MCPServers[args[0]]; !ok {
			return fmt.Errorf("no tool server named %q", args[0])
		}
		delete(cfg.MCPServers, args[0])
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Removed tool server %s\n", args[0])
		return nil
	},
}
