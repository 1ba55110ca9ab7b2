package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mcpbridge/mcpbridge/pkg/mcpclient"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcpbridge",
		Short: "Resilient stdio JSON-RPC bridge for MCP servers",
		Long: "mcpbridge spawns an MCP server and bridges newline-delimited JSON-RPC\n" +
			"between the caller's stdio and the server, adding request correlation,\n" +
			"retry-on-echo, heartbeating, and dead-connection detection.",
	}

	rootCmd.PersistentFlags().String("config", "mcpbridge.yaml", "Path to the server config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [server]",
		Short: "Verify configured servers through the reference MCP SDK",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	}

	cmd.Flags().Bool("all", false, "Check every server in the config file")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 1) {
		return fmt.Errorf("name exactly one server or pass --all")
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("invalid config flag: %w", err)
	}
	file, err := mcpclient.LoadFile(path)
	if err != nil {
		return err
	}

	servers := file.Servers
	if !all {
		cfg, ok := file.Get(args[0])
		if !ok {
			return fmt.Errorf("no server named %q in %s", args[0], path)
		}
		servers = []*mcpclient.ServerConfig{cfg}
	}

	// Sessions stay open until every server has been checked so a slow
	// sibling can't tear down an in-flight listing.
	manager := mcpclient.NewManager()
	defer manager.CloseAll()

	failed := 0
	for _, cfg := range servers {
		if err := checkServer(cmd, manager, cfg); err != nil {
			color.Red("✗ %s: %v", cfg.Name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed the check", failed, len(servers))
	}

	return nil
}

func checkServer(cmd *cobra.Command, manager *mcpclient.Manager, cfg *mcpclient.ServerConfig) error {
	client, err := mcpclient.Connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	manager.Register(cfg.Name, client)

	tools, err := client.ListTools(cmd.Context())
	if err != nil {
		return err
	}

	color.Green("✓ %s responded via the reference SDK", cfg.Name)
	for _, t := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\n", t.Name, t.Description)
	}
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "  (no tools advertised)")
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpbridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpbridge %s\n", version)
		},
	}
}

func loadServerConfig(cmd *cobra.Command, name string) (*mcpclient.ServerConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("invalid config flag: %w", err)
	}

	file, err := mcpclient.LoadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, ok := file.Get(name)
	if !ok {
		return nil, fmt.Errorf("no server named %q in %s", name, path)
	}

	return cfg, nil
}
