// Package main is the entry point for the netpulse CLI.
//
// netpulse can be used as a library or as a standalone binary with a YAML or
// TOML configuration file. This CLI provides the standalone binary approach.
//
// Usage:
//
//	netpulse serve -c netpulse.yaml    # Poll the configured tasks and serve the API
//	netpulse validate -c netpulse.yaml # Validate configuration
//	netpulse watch URL                 # Poll one URL and print each payload
//	netpulse version                   # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help.
var rootCmd = &cobra.Command{
	Use:   "netpulse",
	Short: "A keyed JSON polling engine with a live API",
	Long: `netpulse polls JSON endpoints on a schedule, keeps the latest payload
of every task, and serves them over REST, Server-Sent Events and WebSocket.

Quick start:
  1. Create a config file (netpulse.yaml)
  2. Run: netpulse serve -c netpulse.yaml
  3. Fetch http://localhost:8080/api/tasks

Example config:
  port: 8080
  tasks:
    - key: connections
      url: http://localhost:8000/api/connections
      auto_start: true`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newLogger creates a JSON logger on stderr, at debug level with --verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this netpulse binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "netpulse %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}
