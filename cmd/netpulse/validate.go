package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/netpulse/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a netpulse configuration file without starting the server.

This command parses the file, expands environment variables, and validates
every task. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  netpulse validate -c netpulse.yaml
  netpulse validate --config /etc/netpulse/netpulse.toml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	specs, err := config.BuildTasks(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	autoStart := 0
	for _, spec := range specs {
		if spec.AutoStart {
			autoStart++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:             %d\n", cfg.Port)
	fmt.Fprintf(out, "  Default interval: %s\n", cfg.Defaults.Interval.Duration())
	fmt.Fprintf(out, "  Tasks:            %d (%d auto-start)\n", len(specs), autoStart)

	return nil
}
