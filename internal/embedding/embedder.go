// Package embedding produces CLIP image and text embeddings in one shared vector space.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shashin/pkg/utils"
)

// Embedder produces unit-norm vectors for text and images. Text and image vectors are
// comparable by inner product.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	Dimensions() int
	Close() error
}

var (
	// ErrModelUnavailable means the encoder for the requested modality did not load.
	// It persists for the lifetime of the embedder.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrImageRead means the source image is missing, unreadable or undecodable.
	ErrImageRead = errors.New("image read failed")
	// ErrEmptyText is returned for text that is empty after cleaning.
	ErrEmptyText = errors.New("empty text")
	// ErrInvalidEmbedding means the encoder produced a vector that cannot be normalised
	// or has the wrong dimension.
	ErrInvalidEmbedding = errors.New("invalid embedding")
)

// finalize copies raw, checks its dimension and normalises it to unit length.
func finalize(raw []float32, dimensions int) ([]float32, error) {
	if len(raw) < dimensions {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrInvalidEmbedding, len(raw), dimensions)
	}
	vec := make([]float32, dimensions)
	copy(vec, raw[:dimensions])
	if !utils.NormalizeL2(vec) {
		return nil, fmt.Errorf("%w: zero or non-finite vector", ErrInvalidEmbedding)
	}
	return vec, nil
}
