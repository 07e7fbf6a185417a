package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flowsync/internal/config"
	"flowsync/internal/domain/reconcile"
)

// serverTimestamp is replaced by the transaction's NOW() at commit.
type serverTimestamp struct{}

type Document struct {
	Kind      string          `gorm:"column:kind;primaryKey"`
	ID        string          `gorm:"column:id;primaryKey"`
	Fields    json.RawMessage `gorm:"column:fields;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (Document) TableName() string {
	return "remote_documents"
}

type PostgresStore struct {
	db          *gorm.DB
	collections map[reconcile.Kind]string
}

func NewPostgres(db *gorm.DB, cfg config.SyncConfig) *PostgresStore {
	return &PostgresStore{
		db: db,
		collections: map[reconcile.Kind]string{
			reconcile.KindBanks:      cfg.BanksCollection,
			reconcile.KindOperations: cfg.OperationsCollection,
		},
	}
}

func (s *PostgresStore) Exists(ctx context.Context, kind reconcile.Kind, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(1) FROM remote_documents WHERE kind = ? AND id = ?", s.collection(kind), id).
		Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *PostgresStore) ServerTimestamp() any {
	return serverTimestamp{}
}

func (s *PostgresStore) NewBatch() reconcile.Batch {
	return &Batch{store: s}
}

// Find loads one document, mainly for inspection and tests.
func (s *PostgresStore) Find(ctx context.Context, kind reconcile.Kind, id string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Where("kind = ? AND id = ?", s.collection(kind), id).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) collection(kind reconcile.Kind) string {
	if name, ok := s.collections[kind]; ok {
		return name
	}
	return string(kind)
}

type write struct {
	kind   reconcile.Kind
	id     string
	fields reconcile.Fields
	merge  bool
}

type Batch struct {
	store  *PostgresStore
	writes []write
}

func (b *Batch) Upsert(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{kind: kind, id: id, fields: fields, merge: true})
}

func (b *Batch) Create(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{kind: kind, id: id, fields: fields})
}

func (b *Batch) Len() int {
	return len(b.writes)
}

// Commit applies all writes inside one database transaction.
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.writes) > reconcile.MaxBatchWrites {
		return fmt.Errorf("%w: %d writes, limit %d", reconcile.ErrBatchTooLarge, len(b.writes), reconcile.MaxBatchWrites)
	}
	if len(b.writes) == 0 {
		return nil
	}

	return b.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var now time.Time
		if err := tx.Raw("SELECT NOW()").Scan(&now).Error; err != nil {
			return fmt.Errorf("server time: %w", err)
		}
		now = now.UTC()

		for _, w := range b.writes {
			payload, err := json.Marshal(resolveTimestamps(w.fields, now))
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", w.kind, w.id, err)
			}

			merged := gorm.Expr("EXCLUDED.fields")
			if w.merge {
				merged = gorm.Expr("remote_documents.fields || EXCLUDED.fields")
			}

			doc := Document{
				Kind:      b.store.collection(w.kind),
				ID:        w.id,
				Fields:    payload,
				CreatedAt: now,
				UpdatedAt: now,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "kind"}, {Name: "id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"fields":     merged,
					"updated_at": now,
				}),
			}).Create(&doc).Error
			if err != nil {
				return fmt.Errorf("write %s/%s: %w", w.kind, w.id, err)
			}
		}
		return nil
	})
}

func resolveTimestamps(fields reconcile.Fields, now time.Time) reconcile.Fields {
	resolved := make(reconcile.Fields, len(fields))
	for key, value := range fields {
		if _, ok := value.(serverTimestamp); ok {
			value = now
		}
		resolved[key] = value
	}
	return resolved
}
