package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bootkeep",
		Short: "bootkeep - unattended schema and package upgrades at boot",
		Long: `bootkeep brings an application database from whatever version it is at up
to the version the running code requires, without an operator.

The core schema is upgraded first. Package migration plans, declared in
YAML manifests, run afterwards in order. Progress is stored per plan so an
interrupted upgrade resumes where it stopped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newBootCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newPlansCommand())

	return rootCmd
}
