package commands

import (
	"labwatch/internal/journal"
	"labwatch/pkg/serviceutil"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit *int
	historyUser  *string
)

func init() {
	historyLimit = historyCmd.Flags().Int("limit", 20, "The maximum number of entries to print.")
	historyUser = historyCmd.Flags().String("user", "", "Only print the entries of this user id.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>] [--user <id>]",
	Short: "Prints the most recent checks recorded in the journal.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		j := openJournal(ctx)
		defer j.Close()

		var entries []journal.Entry
		var err error
		if *historyUser != "" {
			entries, err = j.UserHistory(ctx, *historyUser, *historyLimit)
		} else {
			entries, err = j.Recent(ctx, *historyLimit)
		}
		if err != nil {
			serviceutil.Fatal("failed to read journal", err)
		}

		t := newTable(table.Row{"Checked At", "Run", "User", "Status", "File", "Size", "Error"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.CheckedAt.Local().Format(time.DateTime),
				e.RunID,
				e.UserID,
				e.Status,
				e.Filename,
				formatSize(e.Size),
				e.Error,
			})
		}
		t.Render()
	},
}
