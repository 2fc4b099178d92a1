package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/session-timer/internal/application"
)

func newExportCommand(opts *options) *cobra.Command {
	var output string
	var csv bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of the sessions and customer records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			w := opts.stdout
			if output != "" && output != "-" {
				f, createErr := os.Create(output)
				if createErr != nil {
					return fmt.Errorf("creating %s: %w", output, createErr)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = cerr
					}
				}()
				w = f
			}

			backups := application.NewBackupServiceWithLogger(a.manager, opts.logger)
			if csv {
				return backups.ExportCSV(ctx, w)
			}

			snap, err := backups.Export(ctx)
			if err != nil {
				return err
			}
			data, err := snap.Encode()
			if err != nil {
				return fmt.Errorf("encoding backup: %w", err)
			}
			_, err = w.Write(append(data, '\n'))
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	cmd.Flags().BoolVar(&csv, "csv", false, "write the session list as CSV instead of a JSON backup")
	return cmd
}

func newImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all sessions and customer records with a backup",
		Long:  "Replace all sessions and customer records with a backup. Use - to read from stdin. Nothing is changed unless the whole file is valid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := application.NewBackupServiceWithLogger(a.manager, opts.logger).Import(ctx, data)
			if err != nil {
				var vErr *application.ValidationError
				if errors.As(err, &vErr) {
					for field, msg := range vErr.FieldErrors {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
					}
				}
				return err
			}
			if err := a.manager.Snapshot(ctx); err != nil {
				opts.logger.Warn("failed to write local snapshot", "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d customers and %d records\n", summary.Customers, summary.Records)
			return nil
		},
	}
}

func newScanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one expiry scan and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.manager.Scan(ctx)
			if err != nil {
				return err
			}
			if err := a.manager.Snapshot(ctx); err != nil {
				opts.logger.Warn("failed to write local snapshot", "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expired %d, nearing end %d\n", len(result.Expired), len(result.Flagged))
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
