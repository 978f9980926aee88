package commands

import (
	"context"
	"fmt"
	"labwatch/internal/components/telemetry"
	"labwatch/pkg/serviceutil"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	verbose    *bool
	dumpDir    *string
)

// state shared by the subcommands, set up by the root command before they run
var (
	cfg       Config
	tel       telemetry.API = telemetry.SlogAPI{}
	dump      telemetry.MessageOutput
	otelState telemetry.Telemetry
)

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file to read.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages.")
	dumpDir = rootCmd.PersistentFlags().String("dump", "", "Write full http transcripts into this directory.")
}

var rootCmd = &cobra.Command{
	Use:   "labwatch",
	Short: "labwatch checks a lab results portal and delivers the results once they are ready.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		serviceutil.InitSlog(*verbose)

		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		otelState, err = telemetry.Setup(cmd.Context(), "labwatch", cfg.Telemetry)
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}

		if *dumpDir != "" {
			output, err := telemetry.NewFilesystemOutput(*dumpDir)
			if err != nil {
				serviceutil.Fatal("failed to prepare dump dir", err)
			}
			dump = output
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := otelState.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
