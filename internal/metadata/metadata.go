// Package metadata owns the durable record table that sits alongside the
// vector indices. Records are keyed by slot id and are immutable once
// written; the slot id is the only cross-reference shared with the indices.
package metadata

import (
	"context"
	"errors"
)

// Common errors for metadata operations.
var (
	ErrNotFound     = errors.New("record not found")
	ErrStoreClosed  = errors.New("metadata store is closed")
	ErrStoreFailure = errors.New("metadata store failure")
)

// Record is one knowledge-base entry. Created during ingestion, never
// mutated or deleted afterwards.
type Record struct {
	Slot       int64  `json:"slot"`
	IdeaNumber string `json:"idea_number"`
	Status     string `json:"status"`
	Title      string `json:"title"`
	Cause      string `json:"cause"`
	Solution   string `json:"solution"`
}

// Store defines the durable slot -> record table.
// Implementations must distinguish ErrNotFound from connectivity failures.
type Store interface {
	// Get returns the record stored at slot, or ErrNotFound.
	Get(ctx context.Context, slot int64) (Record, error)

	// PutIfAbsent inserts the record at its slot unless one already exists.
	// Returns true when the record was inserted, false when the slot was
	// already occupied.
	PutIfAbsent(ctx context.Context, rec Record) (bool, error)

	// Begin opens a batch of inserts that become visible only on Commit.
	// Rollback discards every insert staged in the batch, so a caller can
	// couple its metadata writes to some other store's success.
	Begin(ctx context.Context) (Batch, error)

	// MaxSlot returns the highest stored slot id, or 0 for an empty table.
	MaxSlot(ctx context.Context) (int64, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// Batch is an open insert transaction. Staged inserts are invisible to
// readers until Commit; Rollback after Commit is a no-op.
type Batch interface {
	// PutIfAbsent stages the record at its slot unless one is already
	// stored or staged there. Returns true when the record was staged.
	PutIfAbsent(ctx context.Context, rec Record) (bool, error)

	// Commit makes every staged insert durable.
	Commit() error

	// Rollback discards the staged inserts.
	Rollback() error
}
