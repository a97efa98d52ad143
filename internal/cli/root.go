// Package cli is nightshiftd's command-line entry point, built with
// github.com/spf13/cobra the way the teacher's internal/cli/root.go is.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nightshiftd",
	Short: "Queue, run, and police coding-agent prompts against a set of git projects",
	Long: `nightshiftd accepts agent prompts over a REST API, runs them one at a time
through an external agent command inside a dedicated git branch per prompt,
and polices the working tree against each project's scope manifest while the
agent runs. Queue state and run history stream out over a WebSocket event
hub, and an optional e-ink status panel mirrors the queue and system health.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nightshiftd %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
