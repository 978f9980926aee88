package commands

import (
	"labwatch/internal/accounts"
	"labwatch/internal/components/chrono"
	"labwatch/internal/monitor"
	"labwatch/internal/outbox"
	"labwatch/pkg/serviceutil"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Checks every account in the config once and writes notifications into the outbox.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		monitored := cfg.MonitoredAccounts()
		if len(monitored) == 0 {
			slog.Warn("no accounts configured, nothing to check", "config", *configPath)
			return
		}

		m := monitor.New(
			accounts.NewStatic(monitored),
			outbox.New(cfg.Outbox, chrono.StandardImpl{}),
			monitor.ClientFactory(cfg.Portal.ClientOptions(dump), tel),
			monitor.WithConcurrency(cfg.Concurrency),
			monitor.WithTelemetry(tel),
		)

		outcomes, err := m.CheckAll(ctx)
		if err != nil {
			serviceutil.Fatal("failed to check accounts", err)
		}

		t := newTable(table.Row{"User", "Status", "Delivered", "File", "Size", "Error"})
		for _, o := range outcomes {
			t.AppendRow(table.Row{
				o.UserID,
				o.Status,
				o.Delivered,
				o.Filename,
				formatSize(o.Size),
				formatErr(o.Err),
			})
		}
		t.Render()

		recordOutcomes(ctx, outcomes)
		slog.Info("notifications written", "outbox", cfg.Outbox)
	},
}
