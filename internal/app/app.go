package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"flowsync/internal/config"
	"flowsync/internal/db"
	"flowsync/internal/domain/reconcile"
	firestorerepo "flowsync/internal/repository/firestore"
	"flowsync/internal/repository/inmemory"
	postgresrepo "flowsync/internal/repository/postgres"
	"flowsync/internal/transport/httpserver"
	"flowsync/internal/transport/httpserver/handler"
	"flowsync/pkg/logger"
)

// App owns the store handle for the lifetime of a command. The reconciler
// only ever sees the reconcile.Store built here.
type App struct {
	cfg        config.Config
	log        logger.Logger
	store      reconcile.Store
	reconciler *reconcile.Service
	closers    []func() error
}

func New(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	log.Info("app: initializing store", "store", cfg.Sync.Store)
	switch cfg.Sync.Store {
	case config.StoreFirestore:
		client, err := firestorerepo.NewClient(ctx, cfg.Firestore, log)
		if err != nil {
			return nil, err
		}
		store := firestorerepo.NewStore(client, cfg.Sync)
		a.store = store
		a.closers = append(a.closers, store.Close)

	case config.StorePostgres:
		dbConn, err := db.NewPostgres(cfg.DB, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return db.Close(dbConn) })

		if err := db.Migrate(dbConn, log); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = postgresrepo.NewPostgres(dbConn, cfg.Sync)

	case config.StoreMemory:
		log.Warn("app: using in-memory store, nothing outlives this process")
		a.store = inmemory.NewStore()

	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Sync.Store)
	}

	a.reconciler = reconcile.NewService(a.store, log)
	return a, nil
}

func (a *App) Reconciler() *reconcile.Service {
	return a.reconciler
}

func (a *App) Store() reconcile.Store {
	return a.store
}

func (a *App) HTTPServer() *http.Server {
	handlers := handler.New(a.reconciler, handler.Defaults{
		ForceOverwrite: a.cfg.Sync.ForceOverwrite,
		DryRun:         a.cfg.Sync.DryRun,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
	}, a.log)

	router := httpserver.NewRouter(a.cfg, handlers, a.log)
	return httpserver.New(a.cfg, router)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
