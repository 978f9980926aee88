package commands

import (
	"context"
	"fmt"
	"labwatch/internal/monitor"
	"labwatch/internal/scrapers/lablaudo"
	"labwatch/pkg/serviceutil"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	probeUsername *string
	probePassword *string
	probeOut      *string
)

func init() {
	probeUsername = probeCmd.Flags().StringP("username", "u", "", "The portal username.")
	probePassword = probeCmd.Flags().StringP("password", "p", "", "The portal password.")
	probeOut = probeCmd.Flags().String("out", ".", "The directory the results pdf is written to.")
	probeCmd.MarkFlagRequired("username")
	probeCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(probeCmd)
}

type probeStep struct {
	name     string
	result   string
	duration time.Duration
}

type prober struct {
	client *lablaudo.Client
	steps  []probeStep
}

func (p *prober) step(name string, fn func() string) {
	start := time.Now()
	result := fn()
	p.steps = append(p.steps, probeStep{
		name:     name,
		result:   result,
		duration: time.Since(start),
	})
}

// run goes through every portal operation once, it keeps going after a negative
// result so the whole portal can be inspected.
func (p *prober) run(ctx context.Context, username, password string) (monitor.Outcome, *lablaudo.Document) {
	outcome := monitor.Outcome{UserID: "probe"}

	authenticated := false
	p.step("authenticate", func() string {
		authenticated = p.client.Authenticate(ctx, username, password)
		if !authenticated {
			return "failed"
		}
		return fmt.Sprintf("ok, landed on %s", p.client.ResultsLocation())
	})
	if !authenticated {
		outcome.Status = monitor.StatusLoginFailed
		return outcome, nil
	}

	p.step("check results", func() string {
		ready, err := p.client.CheckResults(ctx)
		if err != nil {
			outcome.Err = err
			return err.Error()
		}
		if ready {
			outcome.Status = monitor.StatusResultsReady
			return "ready"
		}
		outcome.Status = monitor.StatusResultsPending
		return "pending"
	})

	p.step("find pdf link", func() string {
		link, err := p.client.GetPdfLink(ctx)
		if err != nil {
			outcome.Err = err
			return err.Error()
		}
		if link == "" {
			return "none"
		}
		outcome.Link = link
		return link
	})
	if outcome.Link == "" {
		return outcome, nil
	}

	var document *lablaudo.Document
	p.step("download pdf", func() string {
		var err error
		document, err = p.client.DownloadPdf(ctx, outcome.Link)
		if err != nil {
			outcome.Err = err
			return err.Error()
		}
		if document == nil {
			return "no pdf"
		}
		outcome.Filename = document.Filename
		outcome.Size = len(document.Contents)
		return fmt.Sprintf("%s (%s)", document.Filename, formatSize(outcome.Size))
	})
	return outcome, document
}

var probeCmd = &cobra.Command{
	Use:   "probe -u <username> -p <password> [--out <dir>]",
	Short: "Runs every portal operation once for a single account and prints what happened.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		client, err := lablaudo.NewClient(cfg.Portal.ClientOptions(dump), tel)
		if err != nil {
			serviceutil.Fatal("failed to create portal client", err)
		}

		p := &prober{client: client}
		outcome, document := p.run(ctx, *probeUsername, *probePassword)

		t := newTable(table.Row{"Step", "Result", "Time"})
		for _, s := range p.steps {
			t.AppendRow(table.Row{s.name, s.result, s.duration.Round(time.Millisecond)})
		}
		t.AppendFooter(table.Row{"status", string(outcome.Status), ""})
		t.Render()

		if document != nil {
			err = os.MkdirAll(*probeOut, 0777)
			if err != nil {
				serviceutil.Fatal("failed to create output dir", err)
			}
			path := filepath.Join(*probeOut, filepath.Base(document.Filename))
			err = os.WriteFile(path, document.Contents, 0600)
			if err != nil {
				serviceutil.Fatal("failed to write pdf", err)
			}
			slog.Info("wrote results pdf", "path", path)
		}

		recordOutcomes(ctx, []monitor.Outcome{outcome})
	},
}
