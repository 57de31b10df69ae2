// Package cli holds the planner command line: the HTTP service and the
// one-shot maintenance commands that share its wiring.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Social media content planner",
	Long: `Plans batches of social media posts, drafts their copy with a language model
and schedules them through the Late API.

Configuration is read from the environment and an optional dotenv file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			os.Setenv("ENV_FILE", envFile)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncAccountsCmd)
	rootCmd.AddCommand(dispatchCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
