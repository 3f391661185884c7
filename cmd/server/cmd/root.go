package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

// newRootCmd assembles the command tree. With no subcommand it runs serve.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipdeck",
		Short: "Clipdeck server - shared clipboard for small teams",
		Long: `Clipdeck is a shared, authenticated clipboard service.

The server supports:
- Text snippets and file uploads scoped to their owner
- Live updates over websockets to every session of the owner
- Per-client sliding-window rate limiting with temporary blocks
- An access log for selected endpoints
- A daily retention sweep that purges old items`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (optional, uses env vars by default)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	serve := newServeCmd()
	root.RunE = serve.RunE

	root.AddCommand(serve)
	root.AddCommand(newVersionCmd())
	root.AddCommand(newHealthcheckCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
