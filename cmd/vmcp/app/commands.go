// Package app provides the entry point for the vmcp command-line application.
package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/oauthflow"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/gateway"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/sandbox"
	vmcpserver "github.com/stacklok/vmcp-gateway/pkg/vmcp/server"
)

// oauthFlowTTL bounds how long a pending backend OAuth authorization (the
// window between handing out a redirect URL and the user completing login)
// stays valid before it must be restarted.
const oauthFlowTTL = 15 * time.Minute

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "vmcp",
	DisableAutoGenTag: true,
	Short:             "Virtual MCP Gateway - compose and proxy multiple MCP servers into one",
	Long: `Virtual MCP Gateway (vmcp) aggregates multiple upstream MCP servers into a single
composed downstream MCP endpoint per user-owned configuration. It provides:

- Capability composition with prefix-based conflict resolution
- Custom tools/prompts backed by prompt rendering, HTTP calls, or sandboxed Python
- An optional per-instance OS sandbox for Python custom tools
- Outgoing authentication (header injection, token exchange, OAuth PKCE) to upstreams`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the vmcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to vMCP configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSandboxCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Virtual MCP Gateway",
		Long: `Start the Virtual MCP Gateway: connect every selected upstream server, compose
their capabilities per the loaded configuration, and serve the result to downstream
MCP clients.`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().Int("port", 4483, "Port to listen on")
	cmd.Flags().Bool("stdio", false, "Serve over stdio instead of streamable HTTP")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("vmcp version: %s", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a vMCP configuration file",
		Long: `Validate the vMCP configuration file for syntax and semantic errors: required
fields, transport-specific fields on every selected server, and well-formed custom
tool/prompt/resource declarations.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadAndValidateConfig(viper.GetString("config"))
			if err != nil {
				return err
			}

			logger.Infof("Configuration is valid")
			logger.Infof("  Name: %s", cfg.Name)
			logger.Infof("  Selected servers: %d", len(cfg.SelectedServers))
			logger.Infof("  Custom tools: %d, custom prompts: %d, custom resources: %d",
				len(cfg.CustomTools), len(cfg.CustomPrompts), len(cfg.CustomResources))
			if cfg.Metadata.SandboxEnabled {
				logger.Infof("  Sandbox: enabled")
			}
			return nil
		},
	}
}

// loadAndValidateConfig loads and validates the vMCP configuration file.
func loadAndValidateConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no configuration file specified, use --config flag")
	}

	logger.Infof("Loading configuration from: %s", configPath)
	cfg, err := config.NewYAMLLoader(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// runServe implements the serve command logic.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadAndValidateConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	stdio, _ := cmd.Flags().GetBool("stdio")

	authRegistry := auth.NewDefaultOutgoingAuthRegistry()
	oauthManager := oauthflow.NewManager(oauthFlowTTL)
	manager := gateway.New(authRegistry, sandboxRulesForConfig, oauthManager)

	srv, err := vmcpserver.New(ctx, vmcpserver.Config{
		Name:    cfg.Name,
		Version: version,
		Host:    host,
		Port:    port,
	}, cfg, manager)
	if err != nil {
		return fmt.Errorf("failed to compose Virtual MCP Gateway: %w", err)
	}

	if stdio {
		logger.Infof("Starting Virtual MCP Gateway %q over stdio", cfg.Name)
		return srv.ServeStdio(ctx)
	}

	logger.Infof("Starting Virtual MCP Gateway %q at http://%s:%d", cfg.Name, host, port)
	return srv.Start(ctx)
}

// sandboxRulesForConfig computes the policy rules governing a vMCP's Python
// sandbox. Every instance shares the same rule set: no network, plus the
// default mandatory deny on its own .vmcp-config.json. No write-allow list
// is set, so the sandbox directory is not singled out as the place writes go;
// what an empty write-allow list permits is decided by each platform compiler.
func sandboxRulesForConfig(vmcpID string) *sandbox.PolicyRuleSet {
	return &sandbox.PolicyRuleSet{
		AllowNetwork:  false,
		MandatoryDeny: sandbox.DefaultMandatoryDenyProvider{}.MandatoryDenyPaths(vmcpID),
	}
}

func newSandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage the per-vMCP Python sandbox environment",
	}
	cmd.AddCommand(newSandboxEnableCmd())
	cmd.AddCommand(newSandboxDisableCmd())
	cmd.AddCommand(newSandboxDeleteCmd())
	cmd.AddCommand(newSandboxStatusCmd())
	return cmd
}

func newSandboxEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <vmcp-id>",
		Short: "Create the sandbox venv and mark it enabled for a vMCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := sandbox.NewLifecycle(nil).Enable(args[0]); err != nil {
				return fmt.Errorf("enabling sandbox: %w", err)
			}
			logger.Infof("Sandbox enabled for %s", args[0])
			return nil
		},
	}
}

func newSandboxDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <vmcp-id>",
		Short: "Mark a vMCP's sandbox disabled without deleting its venv",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := sandbox.NewLifecycle(nil).Disable(args[0]); err != nil {
				return fmt.Errorf("disabling sandbox: %w", err)
			}
			logger.Infof("Sandbox disabled for %s", args[0])
			return nil
		},
	}
}

func newSandboxDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <vmcp-id>",
		Short: "Remove a vMCP's sandbox directory entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := sandbox.NewLifecycle(nil).Delete(args[0]); err != nil {
				return fmt.Errorf("deleting sandbox: %w", err)
			}
			logger.Infof("Sandbox deleted for %s", args[0])
			return nil
		},
	}
}

func newSandboxStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <vmcp-id>",
		Short: "Show whether a vMCP's sandbox is enabled and its venv state",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			status, err := sandbox.NewLifecycle(nil).Status(args[0])
			if err != nil {
				return fmt.Errorf("reading sandbox status: %w", err)
			}
			logger.Infof("Sandbox for %s: enabled=%t path=%s venv=%t folder=%t",
				args[0], status.Enabled, status.Path, status.VenvExists, status.FolderExists)
			return nil
		},
	}
}
