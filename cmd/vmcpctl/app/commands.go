// Package app provides the entry point for the vmcpctl command-line application.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
	"github.com/stacklok/vmcp-gateway/pkg/vmcpctl"
)

const defaultVMCPURL = "http://127.0.0.1:4483/mcp"

var rootCmd = &cobra.Command{
	Use:               "vmcpctl",
	DisableAutoGenTag: true,
	Short:             "Client CLI for a running Virtual MCP Gateway",
	Long: `vmcpctl talks to an already-running "vmcp serve" instance over the same
downstream MCP protocol any other client would use. It is meant to be run from
inside a vMCP's Python sandbox, where it is the thin SDK surface sandboxed
tool scripts call out to, but works from any shell given --url.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the vmcpctl CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("url", defaultVMCPURL, "URL of the running vmcp serve endpoint")
	if err := viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url")); err != nil {
		logger.Errorf("Error binding url flag: %v", err)
	}
	if err := viper.BindEnv("url", "VMCP_URL"); err != nil {
		logger.Errorf("Error binding VMCP_URL: %v", err)
	}
	rootCmd.PersistentFlags().StringToString("header", nil, "Extra HTTP header(s) to send, e.g. --header Authorization='Bearer ...'")

	rootCmd.AddCommand(newListToolsCmd())
	rootCmd.AddCommand(newListPromptsCmd())
	rootCmd.AddCommand(newListResourcesCmd())
	rootCmd.AddCommand(newCallToolCmd())
	rootCmd.AddCommand(newActiveCmd())
	rootCmd.AddCommand(newListVMCPsCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

// dial connects to the --url endpoint using cmd's bound flags.
func dial(ctx context.Context, cmd *cobra.Command) (*vmcpctl.Client, error) {
	headers, err := cmd.Flags().GetStringToString("header")
	if err != nil {
		return nil, err
	}
	return vmcpctl.Dial(ctx, viper.GetString("url"), headers)
}

func newListToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List tools composed by the connected vMCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			tools, err := c.ListTools(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing tools: %w", err)
			}
			if len(tools) == 0 {
				fmt.Println("No tools found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, truncate(t.Description, 80))
			}
			return w.Flush()
		},
	}
}

func newListPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-prompts",
		Short: "List prompts composed by the connected vMCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			prompts, err := c.ListPrompts(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing prompts: %w", err)
			}
			if len(prompts) == 0 {
				fmt.Println("No prompts found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, p := range prompts {
				fmt.Fprintf(w, "%s\t%s\n", p.Name, truncate(p.Description, 80))
			}
			return w.Flush()
		},
	}
}

func newListResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-resources",
		Short: "List resources composed by the connected vMCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			resources, err := c.ListResources(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing resources: %w", err)
			}
			if len(resources) == 0 {
				fmt.Println("No resources found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "URI\tNAME\tDESCRIPTION")
			for _, r := range resources {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.URI, r.Name, truncate(r.Description, 60))
			}
			return w.Flush()
		},
	}
}

func newCallToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call-tool <name>",
		Short: "Call one tool on the connected vMCP",
		Long: `Call a tool by name, passing its arguments as a JSON object.

Example:
  vmcpctl call-tool search_issues --payload '{"query": "bug"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := cmd.Flags().GetString("payload")
			if err != nil {
				return err
			}
			arguments := map[string]any{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &arguments); err != nil {
					return fmt.Errorf("invalid JSON payload: %w", err)
				}
			}

			c, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.CallTool(cmd.Context(), args[0], arguments)
			if err != nil {
				return fmt.Errorf("calling tool %q: %w", args[0], err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if result.IsError {
				return fmt.Errorf("tool %q returned an error result", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringP("payload", "p", "", "JSON object of tool arguments")
	return cmd
}

func newActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the vMCP whose sandbox the current directory belongs to",
		RunE: func(_ *cobra.Command, _ []string) error {
			active, err := vmcpctl.DetectActive()
			if err != nil {
				return fmt.Errorf("detecting active vMCP: %w", err)
			}
			if active == nil {
				fmt.Println("Not inside a vMCP sandbox directory.")
				return nil
			}
			fmt.Printf("vmcp_id: %s\nsandbox: %s\nenabled: %t\n", active.ID, active.SandboxPath, active.Enabled)
			return nil
		},
	}
}

func newListVMCPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-vmcps",
		Short: "List every vMCP ever sandboxed on this machine",
		Long: `Scans ~/.vmcp for sandbox directories this machine has created. There is no
admin API to query (a running vmcp serve process only ever knows its own
config), so this lists local sandbox history rather than a shared registry.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			known, err := vmcpctl.ListKnown()
			if err != nil {
				return fmt.Errorf("listing known vMCPs: %w", err)
			}
			if len(known) == 0 {
				fmt.Println("No vMCPs have been sandboxed on this machine.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VMCP ID\tENABLED\tSANDBOX PATH")
			for _, v := range known {
				fmt.Fprintf(w, "%s\t%t\t%s\n", v.ID, v.Enabled, v.SandboxPath)
			}
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
