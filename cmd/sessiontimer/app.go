package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/session-timer/internal/application"
	"github.com/example/session-timer/internal/cache"
	"github.com/example/session-timer/internal/config"
	"github.com/example/session-timer/internal/metrics"
	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/persistence/firestore"
	"github.com/example/session-timer/internal/persistence/memory"
	"github.com/example/session-timer/internal/persistence/sqlite"
	"github.com/example/session-timer/internal/session"
)

// app holds the wired core shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	manager *application.CollectionManager
	closers []io.Closer
}

// closableGateway is implemented by every store.
type closableGateway interface {
	persistence.Gateway
	io.Closer
}

// localCache is implemented by every cache backend.
type localCache interface {
	application.LocalCache
	io.Closer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	gateway, err := openGateway(ctx, cfg, logger)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, gateway)

	local, err := openCache(cfg)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, local)

	a.metrics = metrics.New(prometheus.NewRegistry())
	a.manager = application.NewCollectionManager(gateway, application.CollectionOptions{
		Cache:   local,
		Metrics: a.metrics,
		Policy: session.ExtensionPolicy{
			ExtensionTime: cfg.ExtensionTime,
			MaxExtensions: cfg.MaxExtensions,
			Cooldown:      cfg.ExtensionCooldown,
		},
		WarningThreshold: cfg.WarningThreshold,
		Logger:           logger,
	})

	if err = a.manager.Load(ctx); err != nil {
		return a, fmt.Errorf("loading sessions: %w", err)
	}
	return a, nil
}

func openGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (closableGateway, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLiteDSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	case config.StoreFirestore:
		store, err := firestore.New(ctx,
			firestore.WithProjectID(cfg.Firestore.ProjectID),
			firestore.WithCredentialsFile(cfg.Firestore.CredentialsFile),
			firestore.WithCollection(cfg.Firestore.Collection),
		)
		if err != nil {
			return nil, fmt.Errorf("opening firestore store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func openCache(cfg config.Config) (localCache, error) {
	switch cfg.Cache {
	case config.CacheMemory:
		return cache.NewMemory(), nil
	case config.CacheFile:
		file, err := cache.NewFile(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		return file, nil
	case config.CacheRedis:
		redis, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return redis, nil
	}
	return nil, fmt.Errorf("unknown cache %q", cfg.Cache)
}

func (a *app) close() {
	if a == nil {
		return
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Error("failed to release resources", "error", err)
	}
}
