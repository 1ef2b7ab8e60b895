// Package search implements the multi-field fusion retrieval engine. A
// query is embedded once, the same vector probes the title, cause, and
// solution indices, and the per-field hits are merged into a single
// deduplicated list ranked by ascending distance.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/remedylabs/remedy/internal/embedding"
	"github.com/remedylabs/remedy/internal/index"
	"github.com/remedylabs/remedy/internal/metadata"
)

// ErrSearchFailed wraps backing-store failures so callers can tell them
// apart from an empty (but successful) result set.
var ErrSearchFailed = errors.New("fusion search failed")

// DefaultTopK is the per-field neighbor count used when the caller passes
// a non-positive value.
const DefaultTopK = 5

// Key is the structural dedup key: hits on any field that share all three
// text values collapse to one result. Field provenance is deliberately not
// part of the key.
type Key struct {
	Title    string
	Cause    string
	Solution string
}

// Result is one deduplicated, ranked retrieval result. Distance is the
// smallest squared-L2 distance observed among the duplicate hits, carried
// as a plain float64.
type Result struct {
	Slot     int64           `json:"slot"`
	Field    index.Field     `json:"field"`
	Distance float64         `json:"distance"`
	Record   metadata.Record `json:"record"`
}

// DedupKey returns the result's structural dedup key.
func (r Result) DedupKey() Key {
	return Key{
		Title:    r.Record.Title,
		Cause:    r.Record.Cause,
		Solution: r.Record.Solution,
	}
}

// Engine fuses per-field similarity lookups into one ranked result list.
type Engine struct {
	embedder embedding.Embedder
	indices  index.Store
	meta     metadata.Store
	logger   *zap.Logger
}

// NewEngine creates a fusion search engine.
func NewEngine(embedder embedding.Embedder, indices index.Store, meta metadata.Store, logger *zap.Logger) (*Engine, error) {
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
	return &Engine{embedder: embedder, indices: indices, meta: meta, logger: logger}, nil
}

// Search embeds the query once, probes all three field indices with the
// same vector, resolves metadata for every valid hit, deduplicates across
// fields, and returns results sorted by ascending distance. An empty
// result means "no match found", not an error; backing-store failures are
// returned as errors and never conflated with empty results.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	// One embedding call serves all three lookups.
	vector, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrSearchFailed, err)
	}

	best := make(map[Key]Result)
	for _, field := range index.Fields() {
		hits, err := e.indices.Search(ctx, field, vector, topK)
		if err != nil {
			return nil, fmt.Errorf("%w: %s index: %v", ErrSearchFailed, field, err)
		}

		for _, hit := range hits {
			// Sentinel positions mean the index holds fewer than topK
			// vectors, not a real match.
			if !hit.Valid() {
				continue
			}

			slot := index.SlotForPosition(hit.Position)
			rec, err := e.meta.Get(ctx, int64(slot))
			if errors.Is(err, metadata.ErrNotFound) {
				e.logger.Warn("index hit without metadata",
					zap.String("field", string(field)),
					zap.Int64("slot", int64(slot)))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%w: metadata lookup: %v", ErrSearchFailed, err)
			}

			res := Result{
				Slot:     int64(slot),
				Field:    field,
				Distance: float64(hit.Distance),
				Record:   rec,
			}
			if prev, ok := best[res.DedupKey()]; !ok || res.Distance < prev.Distance {
				best[res.DedupKey()] = res
			}
		}
	}

	results := make([]Result, 0, len(best))
	for _, res := range best {
		results = append(results, res)
	}
	SortByDistance(results)

	e.logger.Debug("fusion search complete",
		zap.String("query", query),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)))

	return results, nil
}

// SortByDistance orders results by ascending distance, breaking ties by
// slot id for determinism.
func SortByDistance(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Slot < results[j].Slot
	})
}

// Merge unions two deduplicated result lists under the same structural
// key, keeping the smaller distance for collisions, and returns the union
// sorted by ascending distance. Used by the refinement path to fold a new
// round's hits into the session's prior results.
func Merge(previous, fresh []Result) []Result {
	best := make(map[Key]Result, len(previous)+len(fresh))
	for _, r := range previous {
		if prev, ok := best[r.DedupKey()]; !ok || r.Distance < prev.Distance {
			best[r.DedupKey()] = r
		}
	}
	for _, r := range fresh {
		if prev, ok := best[r.DedupKey()]; !ok || r.Distance < prev.Distance {
			best[r.DedupKey()] = r
		}
	}

	merged := make([]Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	SortByDistance(merged)
	return merged
}
