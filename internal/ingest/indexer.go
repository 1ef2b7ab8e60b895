package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/remedylabs/remedy/internal/embedding"
	"github.com/remedylabs/remedy/internal/index"
	"github.com/remedylabs/remedy/internal/metadata"
)

// Options tunes the ingestion pipeline.
type Options struct {
	// BatchSize bounds both memory use and the size of each combined
	// embedding request.
	BatchSize int

	// MaxInFlight bounds how many batches may be embedding concurrently.
	// Writes are always applied in batch order regardless of this value.
	MaxInFlight int
}

// DefaultOptions returns the defaults used by the ingest command.
func DefaultOptions() Options {
	return Options{
		BatchSize:   1000,
		MaxInFlight: 1,
	}
}

// Indexer bulk-loads rows: each batch embeds all three field columns in a
// single combined call, appends the split vectors to the three indices in
// row order, and inserts metadata at stable, monotonically increasing
// slot ids.
type Indexer struct {
	embedder embedding.Embedder
	indices  index.Store
	meta     metadata.Store
	logger   *zap.Logger
	opts     Options
}

// NewIndexer creates a record indexer.
func NewIndexer(embedder embedding.Embedder, indices index.Store, meta metadata.Store, logger *zap.Logger, opts Options) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if indices == nil {
		return nil, fmt.Errorf("index store cannot be nil")
	}
	if meta == nil {
		return nil, fmt.Errorf("metadata store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultOptions().MaxInFlight
	}
	return &Indexer{
		embedder: embedder,
		indices:  indices,
		meta:     meta,
		logger:   logger,
		opts:     opts,
	}, nil
}

// batchVectors holds one batch's embeddings split back into the three
// field columns, each in row order.
type batchVectors struct {
	title    [][]float32
	cause    [][]float32
	solution [][]float32
}

// Resume ingests rows starting after the highest slot already stored,
// making re-invocation over a superset source non-destructive.
func (ix *Indexer) Resume(ctx context.Context, rows []Row) (int, error) {
	maxSlot, err := ix.meta.MaxSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve resume slot: %w", err)
	}
	return ix.Ingest(ctx, rows, maxSlot+1)
}

// Ingest embeds and stores rows in batches, assigning slot ids from
// startSlot upward, one per row in order. Rows whose slot already holds a
// metadata entry are skipped (with a warning) and contribute no vectors,
// so re-running over already-ingested rows is a no-op. Returns the number
// of rows actually inserted.
//
// An embedding failure aborts before any of the failed batch's writes; the
// batches committed so far remain valid and a later Resume picks up after
// them.
func (ix *Indexer) Ingest(ctx context.Context, rows []Row, startSlot int64) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if startSlot < 1 {
		return 0, fmt.Errorf("start slot must be >= 1, got %d", startSlot)
	}

	var batches [][]Row
	for start := 0; start < len(rows); start += ix.opts.BatchSize {
		end := start + ix.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}

	total := 0
	slot := startSlot

	// Batches embed concurrently within a window, but writes are applied
	// strictly in batch order so slot assignment never interleaves.
	for windowStart := 0; windowStart < len(batches); windowStart += ix.opts.MaxInFlight {
		windowEnd := windowStart + ix.opts.MaxInFlight
		if windowEnd > len(batches) {
			windowEnd = len(batches)
		}
		window := batches[windowStart:windowEnd]

		embedded := make([]batchVectors, len(window))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.opts.MaxInFlight)
		for i, batch := range window {
			g.Go(func() error {
				vecs, err := ix.embedBatch(gctx, batch)
				if err != nil {
					return fmt.Errorf("embed batch %d: %w", windowStart+i, err)
				}
				embedded[i] = vecs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}

		for i, batch := range window {
			started := time.Now()
			inserted, err := ix.commitBatch(ctx, batch, embedded[i], slot)
			if err != nil {
				return total, fmt.Errorf("commit batch %d: %w", windowStart+i, err)
			}
			total += inserted
			slot += int64(len(batch))

			ix.logger.Info("batch committed",
				zap.Int("batch", windowStart+i),
				zap.Int("rows", len(batch)),
				zap.Int("inserted", inserted),
				zap.Duration("elapsed", time.Since(started)))
		}
	}

	return total, nil
}

// embedBatch embeds all three field columns of a batch in one combined
// call: titles first, then causes, then solutions, split back apart after
// the call.
func (ix *Indexer) embedBatch(ctx context.Context, batch []Row) (batchVectors, error) {
	n := len(batch)
	texts := make([]string, 0, 3*n)
	for _, row := range batch {
		texts = append(texts, row.Title)
	}
	for _, row := range batch {
		texts = append(texts, row.Cause)
	}
	for _, row := range batch {
		texts = append(texts, row.Solution)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return batchVectors{}, err
	}
	if len(vectors) != 3*n {
		return batchVectors{}, fmt.Errorf("expected %d vectors, got %d", 3*n, len(vectors))
	}

	return batchVectors{
		title:    vectors[:n],
		cause:    vectors[n : 2*n],
		solution: vectors[2*n:],
	}, nil
}

// commitBatch stores the batch's metadata and vectors as one unit. The
// metadata inserts are staged in a transaction and committed only after
// the vector appends have flushed, so a failed index write leaves the
// metadata table untouched and a later Resume retries the whole batch.
// Rows whose slot is already occupied are skipped entirely.
func (ix *Indexer) commitBatch(ctx context.Context, batch []Row, vecs batchVectors, firstSlot int64) (int, error) {
	titleVecs := make([][]float32, 0, len(batch))
	causeVecs := make([][]float32, 0, len(batch))
	solutionVecs := make([][]float32, 0, len(batch))

	staged, err := ix.meta.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin metadata batch: %w", err)
	}
	defer staged.Rollback()

	inserted := 0
	for i, row := range batch {
		slot := firstSlot + int64(i)
		ok, err := staged.PutIfAbsent(ctx, metadata.Record{
			Slot:       slot,
			IdeaNumber: row.IdeaNumber,
			Status:     row.Status,
			Title:      row.Title,
			Cause:      row.Cause,
			Solution:   row.Solution,
		})
		if err != nil {
			return 0, fmt.Errorf("insert metadata at slot %d: %w", slot, err)
		}
		if !ok {
			ix.logger.Warn("slot already present, skipping row", zap.Int64("slot", slot))
			continue
		}

		inserted++
		titleVecs = append(titleVecs, vecs.title[i])
		causeVecs = append(causeVecs, vecs.cause[i])
		solutionVecs = append(solutionVecs, vecs.solution[i])
	}

	if inserted == 0 {
		return 0, nil
	}

	if err := ix.indices.Add(ctx, index.FieldTitle, titleVecs); err != nil {
		return 0, fmt.Errorf("append title vectors: %w", err)
	}
	if err := ix.indices.Add(ctx, index.FieldCause, causeVecs); err != nil {
		return 0, fmt.Errorf("append cause vectors: %w", err)
	}
	if err := ix.indices.Add(ctx, index.FieldSolution, solutionVecs); err != nil {
		return 0, fmt.Errorf("append solution vectors: %w", err)
	}

	if err := ix.indices.Flush(ctx); err != nil {
		return 0, fmt.Errorf("flush indices: %w", err)
	}

	if err := staged.Commit(); err != nil {
		return 0, fmt.Errorf("commit metadata batch: %w", err)
	}
	return inserted, nil
}
