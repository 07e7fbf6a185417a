package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowsync/pkg/logger"
)

type Service struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Reconcile brings the store's banks and bank operations into agreement with
// the snapshot in one sequential pass and a single commit. Banks already
// present remotely are left alone unless opts.ForceOverwritePrimary is set;
// operations already present are never written again.
func (s *Service) Reconcile(ctx context.Context, snapshot Snapshot, opts Options) (*Result, error) {
	if err := Validate(snapshot); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: s.now().UTC(),
	}
	log := s.log.With("run_id", result.RunID)
	log.Info("reconcile: started",
		"banks", len(snapshot.Banks),
		"operations", len(snapshot.Operations),
		"force", opts.ForceOverwritePrimary,
		"dry_run", opts.DryRun,
	)

	batch := s.store.NewBatch()
	serverNow := s.store.ServerTimestamp()

	for _, bank := range snapshot.Banks {
		exists, err := s.store.Exists(ctx, KindBanks, bank.ID)
		if err != nil {
			return nil, &RemoteReadError{Kind: KindBanks, ID: bank.ID, Err: err}
		}

		if exists && !opts.ForceOverwritePrimary {
			result.SkippedBanks++
			log.Info("reconcile: bank skipped", "id", bank.ID, "nombre", bank.Label())
			continue
		}

		fields := bank.Fields()
		fields["updatedAt"] = serverNow
		batch.Upsert(KindBanks, bank.ID, fields)

		if exists {
			result.Updated++
			log.Info("reconcile: bank updated", "id", bank.ID, "nombre", bank.Label())
		} else {
			result.Created++
			log.Info("reconcile: bank created", "id", bank.ID, "nombre", bank.Label())
		}
	}

	for _, operation := range snapshot.Operations {
		exists, err := s.store.Exists(ctx, KindOperations, operation.ID)
		if err != nil {
			return nil, &RemoteReadError{Kind: KindOperations, ID: operation.ID, Err: err}
		}

		if exists {
			result.SkippedOperations++
			log.Debug("reconcile: operation already synced", "id", operation.ID)
			continue
		}

		fields := operation.Fields()
		fields["createdAt"] = serverNow
		batch.Create(KindOperations, operation.ID, fields)
		result.OperationsCreated++
		log.Debug("reconcile: operation created", "id", operation.ID, "banco_id", operation.BancoID, "concepto", operation.Label())
	}

	result.Staged = batch.Len()

	if opts.DryRun {
		result.FinishedAt = s.now().UTC()
		log.Info("reconcile: dry run, nothing committed", "staged", result.Staged)
		return result, nil
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, &CommitError{Writes: result.Staged, Err: err}
	}

	result.FinishedAt = s.now().UTC()
	log.Info("reconcile: committed",
		"created", result.Created,
		"updated", result.Updated,
		"skipped_banks", result.SkippedBanks,
		"operations_created", result.OperationsCreated,
		"skipped_operations", result.SkippedOperations,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	)

	return result, nil
}

// Validate checks the record invariants a run relies on: every record has a
// non-empty id that is unique within its kind, and every operation names its
// bank and carries a date.
func Validate(snapshot Snapshot) error {
	seen := make(map[string]struct{}, len(snapshot.Banks))
	for i, bank := range snapshot.Banks {
		if err := checkID(seen, bank.ID); err != nil {
			return &SnapshotReadError{Kind: KindBanks, Index: i, Err: err}
		}
	}

	seen = make(map[string]struct{}, len(snapshot.Operations))
	for i, operation := range snapshot.Operations {
		if err := checkID(seen, operation.ID); err != nil {
			return &SnapshotReadError{Kind: KindOperations, Index: i, Err: err}
		}
		if strings.TrimSpace(operation.BancoID) == "" {
			return &SnapshotReadError{Kind: KindOperations, Index: i, Err: ErrMissingBankRef}
		}
		if operation.Fecha.IsZero() {
			return &SnapshotReadError{Kind: KindOperations, Index: i, Err: ErrMissingDate}
		}
	}

	return nil
}

func checkID(seen map[string]struct{}, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if _, ok := seen[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	seen[id] = struct{}{}
	return nil
}
