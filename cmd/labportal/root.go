package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "labportal",
	Short: "labportal - Virtual labs portal with lab time tracking",
	Long: `labportal serves the virtual labs web portal: account registration and
login against an identity backend, per-user lab time tracking, and a dashboard
summarising time spent in each lab.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/labportal/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
