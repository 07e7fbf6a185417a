package handler

import (
	"context"
	"sync"

	"flowsync/internal/domain/reconcile"
	"flowsync/pkg/logger"
)

type Reconciler interface {
	Reconcile(ctx context.Context, snapshot reconcile.Snapshot, opts reconcile.Options) (*reconcile.Result, error)
}

// Defaults are the run options applied when a request does not override them.
type Defaults struct {
	ForceOverwrite bool
	DryRun         bool
	MaxBodyBytes   int64
}

type Handlers struct {
	Sync     Reconciler
	defaults Defaults
	log      logger.Logger

	// running admits one reconcile at a time; a run owns its staged writes.
	running sync.Mutex
}

func New(reconciler Reconciler, defaults Defaults, log logger.Logger) *Handlers {
	return &Handlers{
		Sync:     reconciler,
		defaults: defaults,
		log:      log,
	}
}
