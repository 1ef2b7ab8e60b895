package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const flatMagic uint32 = 0x52454D56 // "REMV"

// FlatStore is a file-backed exact-L2 index set. Vectors live in memory;
// Flush rewrites one binary file per field (write to a temp file, then
// rename). Search is brute force over all stored vectors, which matches
// the exact-search behavior the retrieval path expects.
type FlatStore struct {
	dir string
	dim int

	mu      sync.RWMutex
	vectors map[Field][][]float32
}

// OpenFlat opens the flat index set rooted at dir, loading any previously
// persisted field files. Missing files start empty.
func OpenFlat(dir string, dim int) (*FlatStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}

	s := &FlatStore{
		dir:     dir,
		dim:     dim,
		vectors: make(map[Field][][]float32, 3),
	}

	for _, field := range Fields() {
		vecs, err := readVectorFile(s.fieldPath(field), dim)
		if err != nil {
			return nil, fmt.Errorf("load %s index: %w", field, err)
		}
		s.vectors[field] = vecs
	}

	return s, nil
}

// Add appends vectors to the named field index in order.
func (s *FlatStore) Add(ctx context.Context, field Field, vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(v))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vectors[field]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	s.vectors[field] = append(s.vectors[field], vectors...)
	return nil
}

// Search returns the k nearest neighbors by squared Euclidean distance.
// When the index holds fewer than k vectors, the result is padded with
// NoMatch sentinel hits so the caller always sees exactly k entries.
func (s *FlatStore) Search(ctx context.Context, field Field, query []float32, k int) ([]Hit, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(query))
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrIndexFailure, k)
	}

	s.mu.RLock()
	vecs, ok := s.vectors[field]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	hits := make([]Hit, 0, len(vecs))
	for i, v := range vecs {
		hits = append(hits, Hit{Position: int64(i), Distance: squaredL2(query, v)})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Position < hits[j].Position
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	for len(hits) < k {
		hits = append(hits, Hit{Position: NoMatch, Distance: math.MaxFloat32})
	}
	return hits, nil
}

// Count returns the number of vectors in the named field index.
func (s *FlatStore) Count(ctx context.Context, field Field) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vecs, ok := s.vectors[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return int64(len(vecs)), nil
}

// Flush writes every field index to disk.
func (s *FlatStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, field := range Fields() {
		if err := writeVectorFile(s.fieldPath(field), s.dim, s.vectors[field]); err != nil {
			return fmt.Errorf("flush %s index: %w", field, err)
		}
	}
	return nil
}

// Close is a no-op for the flat store; data is persisted by Flush.
func (s *FlatStore) Close() error {
	return nil
}

func (s *FlatStore) fieldPath(field Field) string {
	return filepath.Join(s.dir, string(field)+".vec")
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// File layout: magic, dim (uint32), count (uint64), then count*dim float32
// values, all little endian.

func writeVectorFile(path string, dim int, vectors [][]float32) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:], flatMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(dim))
	binary.LittleEndian.PutUint64(header[8:], uint64(len(vectors)))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}

	buf := make([]byte, dim*4)
	for _, v := range vectors {
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("%w: %v", ErrIndexFailure, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}
	return nil
}

func readVectorFile(path string, dim int) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrIndexFailure, err)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: truncated header in %s", ErrIndexFailure, path)
	}

	if binary.LittleEndian.Uint32(data[0:]) != flatMagic {
		return nil, fmt.Errorf("%w: bad magic in %s", ErrIndexFailure, path)
	}
	fileDim := int(binary.LittleEndian.Uint32(data[4:]))
	if fileDim != dim {
		return nil, fmt.Errorf("%w: file has dim %d, want %d", ErrDimensionMismatch, fileDim, dim)
	}
	// Bound the count by the bytes actually present before allocating, so
	// a corrupt header cannot demand a huge allocation or overflow the
	// size arithmetic.
	body := data[16:]
	count64 := binary.LittleEndian.Uint64(data[8:])
	if count64 > uint64(len(body)/(dim*4)) {
		return nil, fmt.Errorf("%w: truncated vector data in %s", ErrIndexFailure, path)
	}
	count := int(count64)

	vectors := make([][]float32, count)
	for i := 0; i < count; i++ {
		v := make([]float32, dim)
		off := i * dim * 4
		for j := 0; j < dim; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off+j*4:]))
		}
		vectors[i] = v
	}
	return vectors, nil
}
