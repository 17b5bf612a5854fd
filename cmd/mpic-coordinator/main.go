package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "mpic-coordinator",
	Short: "Multi-Perspective Issuance Corroboration coordinator",
	Long: `mpic-coordinator orchestrates CAA and domain-control-validation checks
across a cohort of geographically diverse network perspectives, applies a
quorum rule, and retries across alternative cohorts before reporting whether
a certificate authority may issue for a given target.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
