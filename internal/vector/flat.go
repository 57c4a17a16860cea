package vector

import (
	"fmt"
	"sort"
	"sync"
)

// FlatIndex is an in-memory exact index using brute-force inner product search.
// Vectors are stored contiguously; suitable for tens of thousands of entries.
type FlatIndex struct {
	dimensions int
	data       []float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Insert appends vec and returns its slot.
func (f *FlatIndex) Insert(vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	slot := len(f.data) / f.dimensions
	f.data = append(f.data, vec...)
	return slot, nil
}

// Search returns the top-k slots by inner product.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimensions
	if k <= 0 || n == 0 {
		return nil, nil
	}
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Slot: i, Score: InnerProduct(query, f.data[i*f.dimensions:(i+1)*f.dimensions])}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > n {
		k = n
	}
	return hits[:k:k], nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimensions
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Vectors returns a copy of the stored vectors in slot order.
func (f *FlatIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimensions
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, f.dimensions)
		copy(v, f.data[i*f.dimensions:(i+1)*f.dimensions])
		out[i] = v
	}
	return out
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
