package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chroniton",
	Short: "Chroniton - in-process job scheduling engine",
	Long: `Chroniton runs jobs on cron, interval and one-shot schedules.

Available commands:
  run  - Start the scheduler with jobs from a TOML config file
  next - Print the next occurrences of a cron expression

Examples:
  chroniton run --config chroniton.toml
  chroniton next "0 0 0 ? * MON-FRI *" --count 3`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nextCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
