// Command sessiontimer runs the customer check-in service and its
// maintenance tasks.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/session-timer/internal/config"
	"github.com/example/session-timer/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// options is shared by every subcommand.
type options struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "sessiontimer",
		Short:         "Customer check-in and session timer service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.configPath)
			if err != nil {
				logging.New(opts.stderr, slog.LevelError, "json").Error("failed to load configuration", "error", err)
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.New(opts.stderr, cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML configuration file (default $"+config.ConfigFileEnv+")")

	root.AddCommand(
		newServeCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newScanCommand(opts),
	)
	return root
}
