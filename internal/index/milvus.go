package index

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for the Milvus backend.
var (
	ErrMilvusConnection = errors.New("failed to connect to Milvus")
	ErrMilvusInsert     = errors.New("failed to insert vectors")
	ErrMilvusSearch     = errors.New("failed to search vectors")
)

// MilvusConfig holds connection and collection settings for the Milvus
// index backend.
type MilvusConfig struct {
	Address    string
	Collection string
	Dimension  int
}

// MilvusStore implements Store on a single Milvus collection. Every row
// carries its field name and slot id as scalar columns, so the three
// logical indices share one collection and one schema. Searches filter on
// the field column and use raw L2 distance, matching the flat backend.
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore connects to Milvus and ensures the collection exists.
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, config.Dimension)
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMilvusConnection, err)
	}

	store := &MilvusStore{client: c, config: config}
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return store, nil
}

func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.config.Collection,
		AutoID:         true,
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     "field",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "slot",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.config.Dimension),
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Exact search over L2 keeps distances comparable with the flat backend.
	idx, err := entity.NewIndexFlat(entity.L2)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.config.Collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.config.Collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Add appends vectors to the named field index. Slot ids continue from the
// current count of that field, preserving insertion alignment.
func (m *MilvusStore) Add(ctx context.Context, field Field, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != m.config.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, m.config.Dimension, len(v))
		}
	}

	count, err := m.Count(ctx, field)
	if err != nil {
		return err
	}

	fields := make([]string, len(vectors))
	slots := make([]int64, len(vectors))
	for i := range vectors {
		fields[i] = string(field)
		slots[i] = int64(SlotForPosition(count + int64(i)))
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("field", fields),
		entity.NewColumnInt64("slot", slots),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, vectors),
	}

	if _, err := m.client.Insert(ctx, m.config.Collection, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrMilvusInsert, err)
	}
	return nil
}

// Search returns the k nearest neighbors within the named field, padded
// with NoMatch sentinels when fewer rows exist.
func (m *MilvusStore) Search(ctx context.Context, field Field, query []float32, k int) ([]Hit, error) {
	if len(query) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, m.config.Dimension, len(query))
	}

	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMilvusSearch, err)
	}

	expr := fmt.Sprintf(`field == "%s"`, field)
	results, err := m.client.Search(
		ctx,
		m.config.Collection,
		nil,
		expr,
		[]string{"slot"},
		[]entity.Vector{entity.FloatVector(query)},
		"embedding",
		entity.L2,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMilvusSearch, err)
	}

	hits := make([]Hit, 0, k)
	if len(results) > 0 {
		var slotCol *entity.ColumnInt64
		for _, col := range results[0].Fields {
			if col.Name() == "slot" {
				slotCol, _ = col.(*entity.ColumnInt64)
			}
		}
		if slotCol != nil {
			for i := 0; i < results[0].ResultCount && i < len(slotCol.Data()); i++ {
				hits = append(hits, Hit{
					Position: Slot(slotCol.Data()[i]).Position(),
					Distance: results[0].Scores[i],
				})
			}
		}
	}

	for len(hits) < k {
		hits = append(hits, Hit{Position: NoMatch, Distance: math.MaxFloat32})
	}
	return hits, nil
}

// Count returns the number of vectors stored for the named field.
func (m *MilvusStore) Count(ctx context.Context, field Field) (int64, error) {
	expr := fmt.Sprintf(`field == "%s"`, field)
	results, err := m.client.Query(ctx, m.config.Collection, nil, expr, []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMilvusSearch, err)
	}

	for _, col := range results {
		if c, ok := col.(*entity.ColumnInt64); ok && len(c.Data()) > 0 {
			return c.Data()[0], nil
		}
	}
	return 0, nil
}

// Flush forces Milvus to persist pending inserts.
func (m *MilvusStore) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.config.Collection, false); err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	return nil
}

// Close closes the Milvus connection.
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
