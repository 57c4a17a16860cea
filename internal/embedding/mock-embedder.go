package embedding

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/shashin/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and development. Text vectors are
// derived from the cleaned text, image vectors from the file contents, so identical inputs
// always embed identically. Fixtures override either.
type MockEmbedder struct {
	dimensions int

	mu               sync.RWMutex
	texts            map[string][]float32
	images           map[string][]float32
	textUnavailable  bool
	imageUnavailable bool
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{
		dimensions: dimensions,
		texts:      make(map[string][]float32),
		images:     make(map[string][]float32),
	}
}

// SetText fixes the embedding returned for text (matched after cleaning). vec is normalised.
func (e *MockEmbedder) SetText(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts[CleanText(text)] = e.fixture(vec)
}

// SetImage fixes the embedding returned for path. The file must still exist. vec is normalised.
func (e *MockEmbedder) SetImage(path string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[path] = e.fixture(vec)
}

// SetUnavailable makes the text and/or image modality fail with ErrModelUnavailable.
func (e *MockEmbedder) SetUnavailable(text, image bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.textUnavailable = text
	e.imageUnavailable = image
}

func (e *MockEmbedder) fixture(vec []float32) []float32 {
	out := make([]float32, e.dimensions)
	copy(out, vec)
	utils.NormalizeL2(out)
	return out
}

// EmbedText returns the fixture for text or a vector seeded by its hash.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, ErrEmptyText
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.textUnavailable {
		return nil, fmt.Errorf("%w: text encoder", ErrModelUnavailable)
	}
	if v, ok := e.texts[cleaned]; ok {
		return cloneVec(v), nil
	}
	return e.seeded(xxhash.Sum64String(cleaned)), nil
}

// EmbedImage returns the fixture for path or a vector seeded by the file contents.
// A missing or unreadable file yields ErrImageRead.
func (e *MockEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.imageUnavailable {
		return nil, fmt.Errorf("%w: image encoder", ErrModelUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	if v, ok := e.images[path]; ok {
		return cloneVec(v), nil
	}
	return e.seeded(xxhash.Sum64(data)), nil
}

func (e *MockEmbedder) seeded(seed uint64) []float32 {
	rng := rand.New(rand.NewSource(int64(seed)))
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64())
	}
	if !utils.NormalizeL2(emb) {
		emb[0] = 1
	}
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
