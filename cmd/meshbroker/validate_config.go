package main

import (
	"fmt"

	"github.com/cuemby/meshbroker/pkg/config"
	"github.com/spf13/cobra"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [path]",
	Short: "Load and validate a meshbroker configuration file without starting the broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid\n", args[0])
		fmt.Printf("  fast store:    %s:%d\n", cfg.FastStore.Host, cfg.FastStore.Port)
		fmt.Printf("  durable store: %v\n", cfg.DurableStore.Brokers)
		fmt.Printf("  fallback mode: %s\n", cfg.Supervisor.FallbackMode)
		fmt.Printf("  workspace root: %s\n", cfg.Workspace.Root)
		return nil
	},
}
