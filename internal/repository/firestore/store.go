package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"flowsync/internal/config"
	"flowsync/internal/domain/reconcile"
	"flowsync/pkg/logger"
)

type Store struct {
	client      *firestore.Client
	collections map[reconcile.Kind]string
}

// NewClient opens a Firestore client for the configured project. When
// FIRESTORE_EMULATOR_HOST is set the SDK talks to the emulator instead.
func NewClient(ctx context.Context, cfg config.FirestoreConfig, log logger.Logger) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		log.Info("firestore: using credentials file", "path", cfg.CredentialsFile)
	} else {
		log.Info("firestore: using application default credentials")
	}

	var (
		client *firestore.Client
		err    error
	)
	if cfg.DatabaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.DatabaseID, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("open firestore: %w", err)
	}

	log.Info("firestore: connected", "project_id", cfg.ProjectID)
	return client, nil
}

func NewStore(client *firestore.Client, cfg config.SyncConfig) *Store {
	return &Store{
		client: client,
		collections: map[reconcile.Kind]string{
			reconcile.KindBanks:      cfg.BanksCollection,
			reconcile.KindOperations: cfg.OperationsCollection,
		},
	}
}

func (s *Store) Exists(ctx context.Context, kind reconcile.Kind, id string) (bool, error) {
	snap, err := s.doc(kind, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return snap.Exists(), nil
}

func (s *Store) ServerTimestamp() any {
	return firestore.ServerTimestamp
}

func (s *Store) NewBatch() reconcile.Batch {
	return &Batch{store: s}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(kind reconcile.Kind, id string) *firestore.DocumentRef {
	name, ok := s.collections[kind]
	if !ok {
		name = string(kind)
	}
	return s.client.Collection(name).Doc(id)
}

type write struct {
	ref    *firestore.DocumentRef
	fields map[string]any
	merge  bool
}

type Batch struct {
	store  *Store
	writes []write
}

func (b *Batch) Upsert(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{ref: b.store.doc(kind, id), fields: map[string]any(fields), merge: true})
}

func (b *Batch) Create(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{ref: b.store.doc(kind, id), fields: map[string]any(fields)})
}

func (b *Batch) Len() int {
	return len(b.writes)
}

// Commit sends every staged write in one transaction. Firestore applies a
// transaction's writes all together or not at all.
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.writes) > reconcile.MaxBatchWrites {
		return fmt.Errorf("%w: %d writes, limit %d", reconcile.ErrBatchTooLarge, len(b.writes), reconcile.MaxBatchWrites)
	}
	if len(b.writes) == 0 {
		return nil
	}

	return b.store.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range b.writes {
			var err error
			if w.merge {
				err = tx.Set(w.ref, w.fields, firestore.MergeAll)
			} else {
				err = tx.Set(w.ref, w.fields)
			}
			if err != nil {
				return fmt.Errorf("stage %s: %w", w.ref.Path, err)
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
}
