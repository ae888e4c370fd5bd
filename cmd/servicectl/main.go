// Command servicectl administers a workflow database from the shell:
// migrations, definition seeding, spreadsheet import and metrics export.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "servicectl",
		Short:         "Administer the service request workflow store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().String("env", ".env", "optional dotenv file")
	rootCmd.PersistentFlags().String("db", "", "database path, overrides the configuration")

	setupCommands(rootCmd)
	return rootCmd
}
