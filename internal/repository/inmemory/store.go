package inmemory

import (
	"context"
	"sync"
	"time"

	"flowsync/internal/domain/reconcile"
)

// serverTimestamp marks a field the store fills with its own clock at commit.
type serverTimestamp struct{}

type write struct {
	kind   reconcile.Kind
	id     string
	fields reconcile.Fields
	merge  bool
}

type Store struct {
	mu    sync.RWMutex
	docs  map[reconcile.Kind]map[string]reconcile.Fields
	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		docs:  make(map[reconcile.Kind]map[string]reconcile.Fields),
		clock: time.Now,
	}
}

// WithClock replaces the clock used to resolve server timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Exists(ctx context.Context, kind reconcile.Kind, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	_, ok := s.docs[kind][id]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Store) ServerTimestamp() any {
	return serverTimestamp{}
}

func (s *Store) NewBatch() reconcile.Batch {
	return &Batch{store: s}
}

// Get returns a copy of the stored document.
func (s *Store) Get(kind reconcile.Kind, id string) (reconcile.Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[kind][id]
	if !ok {
		return nil, false
	}
	return cloneFields(doc), true
}

// Put stores a document as is, bypassing any batch.
func (s *Store) Put(kind reconcile.Kind, id string, fields reconcile.Fields) {
	s.mu.Lock()
	s.collection(kind)[id] = cloneFields(fields)
	s.mu.Unlock()
}

func (s *Store) Count(kind reconcile.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[kind])
}

func (s *Store) collection(kind reconcile.Kind) map[string]reconcile.Fields {
	docs, ok := s.docs[kind]
	if !ok {
		docs = make(map[string]reconcile.Fields)
		s.docs[kind] = docs
	}
	return docs
}

type Batch struct {
	store  *Store
	writes []write
}

func (b *Batch) Upsert(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{kind: kind, id: id, fields: cloneFields(fields), merge: true})
}

func (b *Batch) Create(kind reconcile.Kind, id string, fields reconcile.Fields) {
	b.writes = append(b.writes, write{kind: kind, id: id, fields: cloneFields(fields)})
}

func (b *Batch) Len() int {
	return len(b.writes)
}

// Commit applies every write under a single lock, so readers observe either
// none or all of the batch.
func (b *Batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.writes) > reconcile.MaxBatchWrites {
		return reconcile.ErrBatchTooLarge
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	now := b.store.clock().UTC()
	for _, w := range b.writes {
		docs := b.store.collection(w.kind)
		current, ok := docs[w.id]
		if !ok || !w.merge {
			current = make(reconcile.Fields, len(w.fields))
		}
		for key, value := range w.fields {
			if _, sentinel := value.(serverTimestamp); sentinel {
				value = now
			}
			current[key] = value
		}
		docs[w.id] = current
	}
	b.writes = nil
	return nil
}

func cloneFields(fields reconcile.Fields) reconcile.Fields {
	copied := make(reconcile.Fields, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}
