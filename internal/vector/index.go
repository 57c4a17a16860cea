// Package vector provides vector indexes over unit-normalized embeddings and their on-disk artifact.
package vector

import "errors"

// Index is an append-only collection of vectors searched by inner product.
// Slots are dense, zero-based and assigned in insertion order.
type Index interface {
	// Insert appends vec and returns its slot.
	Insert(vec []float32) (int, error)
	// Search returns up to k hits ordered by descending score; ties keep the lower slot first.
	Search(query []float32, k int) ([]Hit, error)
	Size() int
	Dimensions() int
	// Vectors returns a copy of all stored vectors in slot order.
	Vectors() [][]float32
	Type() string
	Close() error
}

// Hit is a single search result.
type Hit struct {
	Slot  int
	Score float32 // inner product; cosine similarity for unit vectors
}

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")
