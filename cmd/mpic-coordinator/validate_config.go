package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Args:  cobra.NoArgs,
	Short: "Validate the coordinator configuration file without starting the server",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("configuration OK: %d known perspectives, default_perspective_count=%d, enforce_distinct_rir_regions=%v\n",
		len(cfg.Perspectives.KnownPerspectives), cfg.Orchestration.DefaultPerspectiveCount, cfg.Orchestration.EnforceDistinctRIR)
	return nil
}
