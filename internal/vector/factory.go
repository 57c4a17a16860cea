package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses in-memory brute-force search. Exact; fine for tens of thousands of vectors.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses a FAISS IndexFlatIP. Same results as flat, faster scans.
	// Requires FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewIndex creates a vector index of the specified type.
// Supported types: "flat" (default, also "memory"), "faiss".
func NewIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "memory", "":
		return NewFlatIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// FromVectors builds an index of the given type holding vecs in slot order.
func FromVectors(indexType string, dimensions int, vecs [][]float32) (Index, error) {
	idx, err := NewIndex(indexType, dimensions)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if _, err := idx.Insert(v); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("insert slot %d: %w", i, err)
		}
	}
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
