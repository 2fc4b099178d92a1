package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/session-timer/internal/application"
	httptransport "github.com/example/session-timer/internal/http"
	"github.com/example/session-timer/internal/photo"
	"github.com/example/session-timer/internal/scheduler"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the periodic expiry scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *options) error {
	cfg, logger := opts.cfg, opts.logger

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.close()

	photos, err := photo.NewFileStore(cfg.PhotoDir,
		photo.WithURLPrefix(cfg.PhotoURLPrefix),
		photo.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to open photo store", "error", err)
		return err
	}

	sessions := httptransport.NewSessionHandlerWithLogger(a.manager, logger)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions:      sessions,
		Photos:        httptransport.NewPhotoHandlerWithLogger(application.NewPhotoServiceWithLogger(a.manager, photos, logger), sessions, logger),
		Records:       httptransport.NewRecordHandlerWithLogger(a.manager.Records(), logger),
		Backups:       httptransport.NewBackupHandlerWithLogger(application.NewBackupServiceWithLogger(a.manager, logger), logger),
		Metrics:       a.metrics.Handler(),
		Uploads:       http.FileServer(http.Dir(photos.Dir())),
		UploadsPrefix: photos.URLPrefix(),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Instrument(a.metrics),
			httptransport.RateLimit(httptransport.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimitRPS,
				Burst:             cfg.RateLimitBurst,
			}, logger),
		},
	})

	runner := scheduler.New(logger)
	for _, job := range scheduler.CollectionJobs(a.manager, cfg.ScanInterval, cfg.SnapshotInterval) {
		if err := runner.Add(job); err != nil {
			return fmt.Errorf("scheduling %s: %w", job.Name, err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("session timer API listening", "addr", server.Addr, "store", cfg.Store, "cache", cfg.Cache)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})

	err = g.Wait()

	snapshotCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if snapErr := a.manager.Snapshot(snapshotCtx); snapErr != nil {
		logger.Warn("failed to write final snapshot", "error", snapErr)
	}

	if err != nil {
		logger.Error("server encountered error", "error", err)
		return err
	}
	logger.Info("session timer stopped")
	return nil
}
