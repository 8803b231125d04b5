package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/chroniton/internal/cron"
)

var (
	nextFrom  string
	nextCount int
)

var nextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "Print the next occurrences of a cron expression",
	Long: `Print the next occurrences of a seven field cron expression
(sec min hour day-of-month month day-of-week [year]).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from := time.Now()
		if nextFrom != "" {
			t, err := time.Parse(time.RFC3339, nextFrom)
			if err != nil {
				return errors.Wrapf(err, "invalid --from %q", nextFrom)
			}
			from = t
		}
		return printNext(cmd.OutOrStdout(), args[0], from, nextCount)
	},
}

func init() {
	nextCmd.Flags().StringVar(&nextFrom, "from", "", "Start time in RFC3339 (default now)")
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of occurrences to print")
}

func printNext(w io.Writer, expr string, from time.Time, count int) error {
	if count < 1 {
		return errors.Newf("count must be at least 1, got %d", count)
	}

	e, err := cron.Parse(expr)
	if err != nil {
		return err
	}

	times := e.Next(from, count)
	for _, t := range times {
		fmt.Fprintln(w, t.Format(time.RFC3339))
	}
	if len(times) < count {
		fmt.Fprintln(w, "no further occurrences")
	}
	return nil
}
