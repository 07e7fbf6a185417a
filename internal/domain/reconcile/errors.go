package reconcile

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID      = errors.New("record id is required")
	ErrDuplicateID    = errors.New("duplicate record id")
	ErrMissingBankRef = errors.New("operation bancoId is required")
	ErrMissingDate    = errors.New("operation fecha is required")
	ErrBatchTooLarge  = errors.New("sync batch too large")
	ErrSyncInProgress = errors.New("sync in progress")
)

// SnapshotReadError reports a local snapshot that is missing, malformed or
// violates the record invariants. Nothing has been sent to the store.
type SnapshotReadError struct {
	Path  string
	Kind  Kind
	Index int
	Err   error
}

func (e *SnapshotReadError) Error() string {
	switch {
	case e.Kind != "" && e.Path != "":
		return fmt.Sprintf("read snapshot %s: %s[%d]: %v", e.Path, e.Kind, e.Index, e.Err)
	case e.Kind != "":
		return fmt.Sprintf("read snapshot: %s[%d]: %v", e.Kind, e.Index, e.Err)
	case e.Path != "":
		return fmt.Sprintf("read snapshot %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("read snapshot: %v", e.Err)
	}
}

func (e *SnapshotReadError) Unwrap() error { return e.Err }

// RemoteReadError reports a failed existence check. The run stops before
// any write is committed.
type RemoteReadError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("check %s/%s: %v", e.Kind, e.ID, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// CommitError reports a failed batch commit. The store's own atomicity
// decides what, if anything, was applied.
type CommitError struct {
	Writes int
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %d writes: %v", e.Writes, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
