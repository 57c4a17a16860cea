// Package search owns the image vector index and its identifier map: loading, indexing,
// querying, persistence and reloading when another process rewrites the artifact.
package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/pkg/utils"
)

var (
	// ErrPersist wraps failures to write the index artifact. The manager stays dirty.
	ErrPersist = errors.New("index persist failed")
	// ErrEmptyID is returned when indexing without an image id.
	ErrEmptyID = errors.New("image id is required")
)

// Match is a ranked query result.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// Stats describes the in-memory index.
type Stats struct {
	Size         int       `json:"size"`
	Dimensions   int       `json:"dimensions"`
	IndexType    string    `json:"index_type"`
	Dirty        bool      `json:"dirty"`
	Unsaved      int       `json:"unsaved"`
	Generation   string    `json:"generation,omitempty"`
	ArtifactPath string    `json:"artifact_path"`
	ArtifactTime time.Time `json:"artifact_time,omitempty"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// IndexPath is the artifact file.
	IndexPath string
	// IndexType is a vector.IndexType; "faiss" falls back to "flat" when unavailable.
	IndexType string
	Logger    *zap.Logger
}

// Manager owns one vector index and the identifier map aligned with it by slot.
//
// Lock order is writeMu then mu. writeMu admits one mutator at a time (Index, Save,
// reload) so inserts are strictly ordered and never interleave with a save snapshot.
// mu guards the data; queries only take it for reading.
type Manager struct {
	embedder   embedding.Embedder
	path       string
	indexType  string
	dimensions int
	logger     *zap.Logger

	writeMu sync.Mutex

	mu         sync.RWMutex
	index      vector.Index
	ids        []string
	idCount    map[string]int
	dirty      bool
	unsaved    int
	baseline   time.Time // artifact mtime last loaded or written by us
	generation uuid.UUID
	loadedAt   time.Time

	reloads singleflight.Group
}

// NewManager creates a manager with an empty index. Call Load to hydrate it from disk.
func NewManager(embedder embedding.Embedder, opts Options) (*Manager, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if opts.IndexPath == "" {
		return nil, errors.New("index path is required")
	}
	m := &Manager{
		embedder:   embedder,
		path:       opts.IndexPath,
		indexType:  opts.IndexType,
		dimensions: embedder.Dimensions(),
		logger:     utils.OrNop(opts.Logger),
	}
	if m.dimensions <= 0 {
		return nil, fmt.Errorf("embedder reports invalid dimensions %d", m.dimensions)
	}
	if m.indexType == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		m.logger.Warn("faiss index not available in this build, using flat")
		m.indexType = string(vector.IndexTypeFlat)
	}
	idx, err := vector.NewIndex(m.indexType, m.dimensions)
	if err != nil {
		return nil, err
	}
	m.replace(idx, nil, time.Time{}, uuid.Nil)
	return m, nil
}

// replace swaps in new state. Caller holds writeMu and must not hold mu.
func (m *Manager) replace(idx vector.Index, ids []string, baseline time.Time, gen uuid.UUID) {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	m.mu.Lock()
	old := m.index
	m.index = idx
	m.ids = ids
	m.idCount = counts
	m.dirty = false
	m.unsaved = 0
	m.baseline = baseline
	m.generation = gen
	m.loadedAt = time.Now()
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Load replaces the in-memory state with the artifact on disk. A missing artifact yields
// an empty index. An unreadable or corrupt artifact is logged and also yields an empty
// index; its mtime becomes the baseline so it is not reloaded on every query.
func (m *Manager) Load() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() error {
	a, err := vector.ReadArtifact(m.path)
	if err == nil && a.Dimensions != m.dimensions {
		err = fmt.Errorf("%w: artifact dimension %d, embedder dimension %d", vector.ErrArtifactCorrupt, a.Dimensions, m.dimensions)
	}
	if err != nil {
		var baseline time.Time
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Info("no index artifact, starting empty", zap.String("path", m.path))
		} else {
			baseline, _ = vector.ArtifactModTime(m.path)
			m.logger.Error("index artifact unusable, starting empty; previously indexed images are lost",
				zap.String("op", "load"), zap.String("path", m.path), zap.Error(err))
		}
		idx, ierr := vector.NewIndex(m.indexType, m.dimensions)
		if ierr != nil {
			return ierr
		}
		m.replace(idx, nil, baseline, uuid.Nil)
		return nil
	}

	idx, err := vector.FromVectors(m.indexType, m.dimensions, a.Vectors)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	m.replace(idx, a.IDs, a.ModTime, a.Generation)
	m.logger.Info("index loaded", zap.String("path", m.path), zap.Int("size", len(a.IDs)),
		zap.String("generation", a.Generation.String()))
	return nil
}

// Index embeds the image at path and appends it under id. On failure nothing is mutated
// and the error wraps the embedding sentinel (ErrImageRead, ErrModelUnavailable, ...).
func (m *Manager) Index(ctx context.Context, id, path string) error {
	if id == "" {
		return ErrEmptyID
	}
	vec, err := m.embedder.EmbedImage(ctx, path)
	if err != nil {
		m.logger.Warn("image not indexed", zap.String("op", "index"), zap.String("image_id", id),
			zap.String("path", path), zap.Error(err))
		return fmt.Errorf("index %s: %w", id, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.index.Insert(vec); err != nil {
		return fmt.Errorf("index %s: %w", id, err)
	}
	m.ids = append(m.ids, id)
	m.idCount[id]++
	m.dirty = true
	m.unsaved++
	return nil
}

// TryIndex is Index reporting only success.
func (m *Manager) TryIndex(ctx context.Context, id, path string) bool {
	return m.Index(ctx, id, path) == nil
}

// Query returns up to limit image ids ranked by similarity to text. Duplicates are kept.
func (m *Manager) Query(ctx context.Context, text string, limit int) ([]string, error) {
	matches, err := m.QueryScored(ctx, text, limit)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	ids := make([]string, len(matches))
	for i, mt := range matches {
		ids[i] = mt.ID
	}
	return ids, nil
}

// QueryScored is Query with similarity scores. Empty text or an empty index gives no
// matches and no error; an embedding failure is returned as is.
func (m *Manager) QueryScored(ctx context.Context, text string, limit int) ([]Match, error) {
	if _, err := m.Refresh(); err != nil {
		m.logger.Warn("staleness check failed", zap.String("op", "query"), zap.Error(err))
	}
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return nil, nil
	}
	vec, err := m.embedder.EmbedText(ctx, text)
	if errors.Is(err, embedding.ErrEmptyText) {
		return nil, nil
	}
	if err != nil {
		m.logger.Warn("query not embedded", zap.String("op", "query"), zap.Error(err))
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	hits, err := m.index.Search(vec, limit)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.Slot < 0 || h.Slot >= len(m.ids) {
			continue
		}
		matches = append(matches, Match{ID: m.ids[h.Slot], Score: h.Score})
	}
	return matches, nil
}

// Save writes the index and identifiers as one artifact. It is a no-op when nothing
// changed since the last load or save. On failure the manager stays dirty and the
// error wraps ErrPersist.
func (m *Manager) Save() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	if !m.dirty {
		m.mu.RUnlock()
		return nil
	}
	a := &vector.Artifact{
		Generation: uuid.New(),
		Dimensions: m.dimensions,
		Vectors:    m.index.Vectors(),
		IDs:        append([]string(nil), m.ids...),
	}
	m.mu.RUnlock()

	if err := vector.WriteArtifact(m.path, a); err != nil {
		m.logger.Error("failed to save index", zap.String("op", "save"), zap.String("path", m.path),
			zap.Int("size", len(a.IDs)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	m.mu.Lock()
	m.dirty = false
	m.unsaved = 0
	m.baseline = a.ModTime
	m.generation = a.Generation
	m.mu.Unlock()
	m.logger.Info("index saved", zap.String("path", m.path), zap.Int("size", len(a.IDs)))
	return nil
}

// Refresh reloads the artifact when its mtime is newer than the last one this manager
// loaded or wrote, and reports whether it did. Unsaved inserts are discarded by the
// reload. A missing artifact is not a reason to reload. Concurrent calls share one reload.
func (m *Manager) Refresh() (bool, error) {
	if !m.stale() {
		return false, nil
	}
	v, err, _ := m.reloads.Do("reload", func() (interface{}, error) {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if !m.stale() {
			return false, nil
		}
		m.mu.RLock()
		discarded := m.unsaved
		m.mu.RUnlock()
		if discarded > 0 {
			m.logger.Warn("index artifact changed on disk, discarding unsaved inserts",
				zap.String("path", m.path), zap.Int("discarded", discarded))
		}
		return true, m.loadLocked()
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *Manager) stale() bool {
	mt, err := vector.ArtifactModTime(m.path)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mt.After(m.baseline)
}

// Contains reports whether id has been indexed at least once.
func (m *Manager) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idCount[id] > 0
}

// Size returns the number of indexed vectors.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Size:         len(m.ids),
		Dimensions:   m.dimensions,
		IndexType:    m.index.Type(),
		Dirty:        m.dirty,
		Unsaved:      m.unsaved,
		ArtifactPath: m.path,
		ArtifactTime: m.baseline,
		LoadedAt:     m.loadedAt,
	}
	if m.generation != uuid.Nil {
		s.Generation = m.generation.String()
	}
	return s
}

// Path returns the artifact path.
func (m *Manager) Path() string {
	return m.path
}

// Close releases the index. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Close()
}
