package reconcile

import "context"

// Store is the remote keyed document store a run reconciles against.
type Store interface {
	Exists(ctx context.Context, kind Kind, id string) (bool, error)
	// ServerTimestamp returns the store's sentinel for "now" as seen by the
	// store at commit time.
	ServerTimestamp() any
	NewBatch() Batch
}

// Batch accumulates writes until a single all-or-nothing Commit.
type Batch interface {
	// Upsert merges fields into the document, leaving other remote fields untouched.
	Upsert(kind Kind, id string, fields Fields)
	// Create writes the document as given, replacing anything under that key.
	Create(kind Kind, id string, fields Fields)
	Len() int
	Commit(ctx context.Context) error
}
