package commands

import (
	"context"
	"labwatch/internal/journal"
	"labwatch/internal/monitor"
	"labwatch/pkg/serviceutil"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatSize(size int) string {
	if size <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(size))
}

func formatErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func openJournal(ctx context.Context) *journal.Journal {
	j, err := journal.Open(ctx, cfg.Journal, tel)
	if err != nil {
		serviceutil.Fatal("failed to open journal", err)
	}
	return j
}

// recordOutcomes writes the outcomes of a run into the journal, failing to do so
// does not fail the command.
func recordOutcomes(ctx context.Context, outcomes []monitor.Outcome) {
	runID, err := journal.NewRunID()
	if err != nil {
		slog.Warn("failed to record run", "err", err)
		return
	}

	j, err := journal.Open(ctx, cfg.Journal, tel)
	if err != nil {
		slog.Warn("failed to open journal", "err", err)
		return
	}
	defer j.Close()

	err = j.RecordOutcomes(ctx, runID, outcomes)
	if err != nil {
		slog.Warn("failed to record run", "run_id", runID, "err", err)
		return
	}
	slog.Info("recorded run", "run_id", runID, "entries", len(outcomes))
}
