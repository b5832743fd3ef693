// MeshBridge links a MeshCore radio mesh to a publish/subscribe broker.
//
// Packets heard on the radio are framed and published; frames received
// from the broker are checked, de-duplicated and queued for transmission.
// Several bridges sharing a broker join separate radio meshes into one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the default configuration path.
const configEnv = "MESHBRIDGE_CONFIG"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Running without a subcommand
// starts the bridge.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "meshbridge",
		Short: "Bridge a MeshCore radio mesh over MQTT or NATS",
		Long: `meshbridge forwards mesh packets between a LoRa radio and a
publish/subscribe broker so that separate radio meshes can reach each other.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or %s)", configEnv, defaultConfigPath))

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newCertCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meshbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
