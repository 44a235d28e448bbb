package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	changesSince  string
	changesLimit  int
	changesFollow bool
	changesPoll   time.Duration
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Print the emulator's change log",
	Long: `Page through committed changes recorded in the Redis change log. --since takes
the id printed as "next" by the previous page; --follow keeps polling for new
changes until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t, _ := newRemote()
		defer t.Close()

		ctx := context.Background()
		since := changesSince
		for {
			page, err := t.Changes(ctx, since, changesLimit)
			if err != nil {
				fatal("Failed to read changes", err)
			}
			if !changesFollow || len(page.Changes) > 0 {
				printJSON(page)
			}
			if page.Next != "" {
				since = page.Next
			}
			if !changesFollow {
				return
			}
			if changesLimit <= 0 || len(page.Changes) < changesLimit {
				time.Sleep(changesPoll)
			}
		}
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the emulator is up",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t, _ := newRemote()
		defer t.Close()

		report, err := t.Health(context.Background())
		if err != nil {
			fatal("Emulator is not healthy", err)
		}
		printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(changesCmd, healthCmd)
	changesCmd.Flags().StringVar(&changesSince, "since", "", "Start after this change id")
	changesCmd.Flags().IntVarP(&changesLimit, "limit", "l", 100, "Changes per page")
	changesCmd.Flags().BoolVarP(&changesFollow, "follow", "f", false, "Keep printing new changes")
	changesCmd.Flags().DurationVar(&changesPoll, "poll", time.Second, "Poll interval with --follow")
}
