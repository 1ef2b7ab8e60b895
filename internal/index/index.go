// Package index provides the three parallel similarity indices (title,
// cause, solution) behind the fusion search engine. Each index maps a
// 0-based insertion position to a fixed-dimension vector; record slot ids
// are 1-based, and the Slot type is the single place where that offset
// lives. The indices must stay insertion-aligned: position i in every
// field index belongs to the record at slot i+1.
package index

import (
	"context"
	"errors"
)

// Common errors for index operations.
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrUnknownField      = errors.New("unknown index field")
	ErrIndexFailure      = errors.New("index operation failed")
)

// Field names one of the three per-record text facets.
type Field string

const (
	FieldTitle    Field = "title"
	FieldCause    Field = "cause"
	FieldSolution Field = "solution"
)

// Fields returns the three facets in their canonical order.
func Fields() []Field {
	return []Field{FieldTitle, FieldCause, FieldSolution}
}

// NoMatch is the sentinel position returned when an index holds fewer than
// k vectors. Callers must discard sentinel hits; a real position is never
// negative.
const NoMatch int64 = -1

// Slot is the 1-based record identifier shared with the metadata table.
type Slot int64

// SlotForPosition converts a 0-based index position to its slot id.
func SlotForPosition(pos int64) Slot {
	return Slot(pos + 1)
}

// Position converts a slot id back to its 0-based index position.
func (s Slot) Position() int64 {
	return int64(s) - 1
}

// Hit is one nearest-neighbor result from a single field index.
// Distance is squared Euclidean; lower is more similar.
type Hit struct {
	Position int64
	Distance float32
}

// Valid reports whether the hit refers to a real index position.
func (h Hit) Valid() bool {
	return h.Position != NoMatch
}

// Store groups the three field indices behind one interface.
// Implementations must keep the per-field insertion order stable and return
// exactly k hits from Search, padding with NoMatch sentinels when a field
// index holds fewer than k vectors.
type Store interface {
	// Add appends vectors to the named field index in order.
	Add(ctx context.Context, field Field, vectors [][]float32) error

	// Search returns the k nearest neighbors of query in the named field
	// index as (position, distance) pairs, nearest first.
	Search(ctx context.Context, field Field, query []float32, k int) ([]Hit, error)

	// Count returns the number of vectors in the named field index.
	Count(ctx context.Context, field Field) (int64, error)

	// Flush persists all pending appends durably.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
