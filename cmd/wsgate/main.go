// Wsgate is a WebSocket server and client.
//
// Every connection runs on a single event loop with a bounded write queue,
// write and shutdown timeouts, and a graceful closing handshake.
//
// Usage:
//
//	wsgate serve [flags]
//	wsgate dial <url> [message...]
//	wsgate discover
//
// See 'wsgate --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wsgate/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wsgate",
	Short: "WebSocket server and client",
	Long: `wsgate serves and dials WebSocket connections over TCP or unix sockets.

The server echoes messages by default, answers plain HTTP requests with
426 Upgrade Required, and can advertise itself over mDNS. The client sends
messages from the command line or stdin and prints the replies.

The server logs at the configured level. The client commands are silent
unless WSGATE_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "wsgate %s (commit: %s, %s, %s)\n",
			info.Version, info.Commit, info.GoVersion, info.Platform)
	},
}
