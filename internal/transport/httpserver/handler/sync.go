package handler

import (
	"errors"
	"net/http"
	"time"

	"flowsync/internal/domain/reconcile"
	"flowsync/internal/snapshot"
)

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) SyncSnapshot(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	opts, err := h.parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if !h.running.TryLock() {
		h.log.BusinessError("sync.snapshot: rejected", reconcile.ErrSyncInProgress)
		writeError(w, http.StatusConflict, "sync_in_progress", "a sync run is already in progress")
		return
	}
	defer h.running.Unlock()

	body := r.Body
	if h.defaults.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.defaults.MaxBodyBytes)
	}

	snap, err := snapshot.Decode(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.BusinessError("sync.snapshot: body too large", err, "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "snapshot_too_large", "snapshot body is too large")
			return
		}
		h.log.BusinessError("sync.snapshot: invalid snapshot", err)
		writeError(w, http.StatusBadRequest, "invalid_snapshot", err.Error())
		return
	}

	result, err := h.Sync.Reconcile(r.Context(), snap, opts)
	if err != nil {
		logAttrs := []any{
			"banks", len(snap.Banks),
			"operations", len(snap.Operations),
			"force", opts.ForceOverwritePrimary,
			"dry_run", opts.DryRun,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		}

		var (
			snapErr   *reconcile.SnapshotReadError
			readErr   *reconcile.RemoteReadError
			commitErr *reconcile.CommitError
		)
		switch {
		case errors.As(err, &snapErr):
			h.log.BusinessError("sync.snapshot: invalid snapshot", err, logAttrs...)
			writeError(w, http.StatusBadRequest, "invalid_snapshot", err.Error())
		case errors.Is(err, reconcile.ErrBatchTooLarge):
			h.log.BusinessError("sync.snapshot: batch too large", err, logAttrs...)
			writeError(w, http.StatusRequestEntityTooLarge, "sync_batch_too_large", "too many writes in one batch")
		case errors.As(err, &readErr):
			h.log.InternalError("sync.snapshot: remote read failed", err, logAttrs...)
			writeError(w, http.StatusBadGateway, "remote_read_failed", "remote store read failed")
		case errors.As(err, &commitErr):
			h.log.InternalError("sync.snapshot: commit failed", err, logAttrs...)
			writeError(w, http.StatusBadGateway, "commit_failed", "remote store commit failed")
		default:
			h.log.InternalError("sync.snapshot: reconcile failed", err, logAttrs...)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		}
		return
	}

	h.log.Info(
		"sync: completed",
		"run_id", result.RunID,
		"created", result.Created,
		"updated", result.Updated,
		"skipped_banks", result.SkippedBanks,
		"operations_created", result.OperationsCreated,
		"skipped_operations", result.SkippedOperations,
		"dry_run", result.DryRun,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) parseOptions(r *http.Request) (reconcile.Options, error) {
	query := r.URL.Query()

	force, err := parseBoolParam("force", query.Get("force"), h.defaults.ForceOverwrite)
	if err != nil {
		return reconcile.Options{}, err
	}
	dryRun, err := parseBoolParam("dry_run", query.Get("dry_run"), h.defaults.DryRun)
	if err != nil {
		return reconcile.Options{}, err
	}

	return reconcile.Options{ForceOverwritePrimary: force, DryRun: dryRun}, nil
}
